package kubegcore

import (
	"gopkg.in/AlecAivazis/survey.v1"
)

func SurveyConfirm(message string) (bool, error) {
	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: true,
	}
	if err := survey.AskOne(prompt, &confirmed, nil); err != nil {
		return false, err
	}
	return confirmed, nil
}
