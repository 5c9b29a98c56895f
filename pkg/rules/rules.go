// Package rules turns a report into ranked detections. Rules are stateless
// and independent; every rule runs regardless of what the others found.
package rules

import (
	"fmt"
	"strings"

	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Rule derives detections from a report
type Rule struct {
	Name string
	Eval func(r *model.MinidumpReport) []model.Detection
}

// Default is the built-in rule list, in output order
var Default = []Rule{
	{Name: "access-violation", Eval: accessViolation},
	{Name: "temp-module", Eval: tempModules},
	{Name: "exec-artifact", Eval: execArtifacts},
	{Name: "injected-region", Eval: injectedRegions},
}

// Evaluate runs the default rules. Detections are recomputed on each call.
func Evaluate(r *model.MinidumpReport) []model.Detection {
	return EvaluateRules(Default, r)
}

// EvaluateRules runs rules in order and concatenates their output
func EvaluateRules(rules []Rule, r *model.MinidumpReport) []model.Detection {
	if r == nil {
		return nil
	}
	var out []model.Detection
	for _, rule := range rules {
		out = append(out, rule.Eval(r)...)
	}
	return out
}

// Counts tallies detections per severity
func Counts(detections []model.Detection) map[model.Severity]int {
	counts := map[model.Severity]int{model.High: 0, model.Warning: 0, model.Info: 0}
	for _, d := range detections {
		counts[d.Severity]++
	}
	return counts
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func accessViolation(r *model.MinidumpReport) []model.Detection {
	exc := r.Exception
	if exc == nil || exc.Code != AccessViolation {
		return nil
	}
	return []model.Detection{{
		Severity: model.High,
		Title:    "Access violation",
		Details: fmt.Sprintf("Exception code 0xC0000005 at address 0x%016X (thread_id=%d).",
			exc.Address, exc.ThreadID),
	}}
}

func tempModules(r *model.MinidumpReport) []model.Detection {
	var out []model.Detection
	for _, m := range r.Modules {
		if !containsAny(strings.ToLower(m.Name), TempPathMarkers) {
			continue
		}
		out = append(out, model.Detection{
			Severity: model.Warning,
			Title:    "Module loaded from temp path",
			Details:  "Module: " + m.Name,
		})
	}
	return out
}

func execArtifacts(r *model.MinidumpReport) []model.Detection {
	var out []model.Detection
	for _, a := range r.ExecArtifacts {
		if det, ok := ExecArtifact(a); ok {
			out = append(out, det)
		}
	}
	return out
}

// ExecArtifact scores a single recovered command line. Only LOLBin
// invocations produce a detection; any fired sub-reason makes it High.
func ExecArtifact(a model.ProcessExecArtifact) (model.Detection, bool) {
	cl := strings.ToLower(a.CommandLine)
	img := strings.ToLower(a.Image)
	if !containsAny(img, LOLBins) && !containsAny(cl, LOLBins) {
		return model.Detection{}, false
	}

	var reasons []string
	for _, sr := range ArtifactSubReasons {
		if containsAny(cl, sr.Tokens) {
			reasons = append(reasons, sr.Name)
		}
	}

	det := model.Detection{
		Severity: model.Warning,
		Title:    "Suspicious execution artifact",
		Details:  fmt.Sprintf("Image: %s\nCommand line: %s", a.Image, a.CommandLine),
	}
	if len(reasons) > 0 {
		det.Severity = model.High
		det.Details = fmt.Sprintf("Reasons: %s\n%s", strings.Join(reasons, ", "), det.Details)
	}
	return det, true
}

func injectedRegions(r *model.MinidumpReport) []model.Detection {
	out := make([]model.Detection, 0, len(r.InjectedRegions))
	for _, reg := range r.InjectedRegions {
		out = append(out, InjectedRegion(reg))
	}
	return out
}

// InjectedRegion renders one suspicious allocation, keeping its risk
func InjectedRegion(reg model.InjectedRegion) model.Detection {
	var reasons string
	if len(reg.Reasons) == 0 {
		reasons = "- (none)"
	} else {
		lines := make([]string, len(reg.Reasons))
		for i, r := range reg.Reasons {
			lines[i] = "- " + r
		}
		reasons = strings.Join(lines, "\n")
	}

	return model.Detection{
		Severity: reg.Risk,
		Title:    "Suspicious executable memory allocation",
		Details: fmt.Sprintf("base=0x%016X size=0x%X\nprotection=%s\ntype=%s\nstate=%s\n\nReasons:\n%s",
			reg.Base, reg.Size, reg.ProtectionString(), reg.TypeString(), reg.StateString(), reasons),
	}
}
