package rules

// TempPathMarkers identify modules and command lines under temp directories.
// Matched case-insensitively.
var TempPathMarkers = []string{`\appdata\local\temp\`, `\temp\`, `/tmp/`}

// LOLBins are system tools commonly abused to run attacker code
var LOLBins = []string{
	"powershell", "pwsh", "cmd.exe", "wscript", "cscript", "mshta",
	"rundll32", "regsvr32", "schtasks", "wmic", "certutil", "bitsadmin",
	"msbuild", "installutil",
}

// SubReason is one aggravating trait of a LOLBin command line. It fires
// when the lowercased command line contains any of Tokens.
type SubReason struct {
	Name   string
	Tokens []string
}

// ArtifactSubReasons in reporting order
var ArtifactSubReasons = []SubReason{
	{Name: "encoded command", Tokens: []string{" -enc", " -encodedcommand"}},
	{Name: "in-memory execution pattern", Tokens: []string{"frombase64string", "iex", "invoke-expression"}},
	{Name: "temp path", Tokens: TempPathMarkers},
	{Name: "network indicator", Tokens: []string{"http://", "https://"}},
}

// AccessViolation is STATUS_ACCESS_VIOLATION
const AccessViolation = 0xC0000005
