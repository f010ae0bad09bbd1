package version

// Version is set at build time with
// -ldflags "-X github.com/solo-io/kubegcore/pkg/version.Version=<tag>"
var Version = "dev"
