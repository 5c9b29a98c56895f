package execscan

// Indicators mark a string as a plausible command line. Matched as
// case-insensitive substrings; at least one must be present.
var Indicators = []string{
	// Executable and script extensions
	".exe", ".bat", ".cmd", ".ps1", ".vbs", ".js", ".jar", ".msi",

	// Interpreters and tools
	"powershell", "pwsh", "cmd.exe", "wscript", "cscript", "mshta",
	"rundll32", "regsvr32", "schtasks", "wmic", "certutil", "bitsadmin",
	"curl ", "wget ", "msbuild", "installutil", "python", "node ",
	"dotnet", "java ", "bash", "/bin/sh",
}

// Candidate length bounds in characters, inclusive
const (
	MinCandidateLen = 12
	MaxCandidateLen = 800
)
