package capture

type State int

const (
	Idle State = iota
	CleaningPre
	Capturing
	Compressing
	Transferring
	CleaningPost
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:         "Idle",
	CleaningPre:  "Cleaning(pre)",
	Capturing:    "Capturing",
	Compressing:  "Compressing",
	Transferring: "Transferring",
	CleaningPost: "Cleaning(post)",
	Done:         "Done",
	Failed:       "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s State) Terminal() bool {
	return s == Done || s == Failed
}
