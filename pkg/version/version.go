package version

// Current defines the application version.
// It defaults to "dev" but is overwritten at release time via -ldflags.
var Current = "dev"

const AppName = "orgsentry"
