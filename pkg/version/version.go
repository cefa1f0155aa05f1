// Package version carries build metadata set with -ldflags -X.
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return "linkd " + Version + " (" + Commit + ", built " + Date + ")"
}
