package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"
	"gopkg.in/ini.v1"
)

const (
	pythonSettingsSection = "/Script/PythonScriptPlugin.PythonScriptPluginSettings"
	defaultBindAddress    = "0.0.0.0"
)

// requiredPlugins must be enabled in the descriptor before the editor
// will open the remote execution socket.
var requiredPlugins = []string{"PythonScriptPlugin", "PythonAutomationTest"}

// go-ini only exposes output formatting through package globals, so the
// editor's Key=Value shape has to be configured once, before any save.
func init() {
	ini.PrettyFormat = false
}

// FixReport describes what a remediation pass did. RestartNeeded is set
// whenever a file changed, since the editor only reads both files at
// startup.
type FixReport struct {
	ProjectFile   string
	Changed       []string
	RestartNeeded bool
}

// Fixer patches the two places remote execution is configured: the
// .uproject plugin list and the Python plugin section of
// Config/DefaultEngine.ini. Running it twice is a no-op the second time.
type Fixer struct {
	// BindAddress written to RemoteExecutionMulticastBindAddress.
	// Empty means 0.0.0.0.
	BindAddress string
}

// Fix remediates the project rooted at root. A missing descriptor is a
// hard error; everything else is created or amended in place.
func (f Fixer) Fix(root string) (FixReport, error) {
	found := descriptorsIn(root)
	if len(found) == 0 {
		return FixReport{}, fmt.Errorf("%w: in %q", ErrNoProjectFile, root)
	}
	report := FixReport{ProjectFile: found[0]}

	changed, err := f.fixDescriptor(found[0], &report)
	if err != nil {
		return report, err
	}
	iniChanged, err := f.fixEngineINI(filepath.Join(root, "Config", "DefaultEngine.ini"), &report)
	if err != nil {
		return report, err
	}

	report.RestartNeeded = changed || iniChanged
	if report.RestartNeeded {
		log.Info().Str("project", found[0]).Strs("changed", report.Changed).
			Msg("project configuration amended, editor restart required")
	}
	return report, nil
}

// fixDescriptor enables the required plugins in the .uproject JSON.
// Only the Plugins value is spliced back into the original bytes, so
// every other field keeps its position, order, and formatting.
func (f Fixer) fixDescriptor(path string, report *FixReport) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("project: read descriptor: %w", err)
	}

	// jsonc output has the same length and offsets as the input, so
	// spans located here apply to raw unchanged.
	plugins, span, err := pluginsValue(jsonc.ToJSON(raw))
	if err != nil {
		return false, fmt.Errorf("project: parse descriptor %q: %w", path, err)
	}

	changed := false
	for _, name := range requiredPlugins {
		idx := -1
		var entry pluginEntry
		for i, rm := range plugins {
			var p pluginEntry
			if json.Unmarshal(rm, &p) == nil && p.Name == name {
				idx, entry = i, p
				break
			}
		}
		switch {
		case idx < 0:
			plugins = append(plugins, json.RawMessage(fmt.Sprintf(`{"Name": %q, "Enabled": true}`, name)))
			report.Changed = append(report.Changed, "added plugin "+name)
			changed = true
		case !entry.Enabled:
			var p map[string]any
			if err := json.Unmarshal(plugins[idx], &p); err != nil {
				return false, fmt.Errorf("project: parse Plugins in %q: %w", path, err)
			}
			p["Enabled"] = true
			enc, err := json.Marshal(p)
			if err != nil {
				return false, err
			}
			plugins[idx] = enc
			report.Changed = append(report.Changed, "enabled plugin "+name)
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	encoded, err := json.MarshalIndent(plugins, "\t", "\t")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, splicePlugins(raw, span, encoded), 0o644); err != nil {
		return false, fmt.Errorf("project: write descriptor: %w", err)
	}
	return true, nil
}

type pluginEntry struct {
	Name    string
	Enabled bool
}

// valueSpan is the byte range holding the Plugins value, measured from
// just past the key's closing quote. insert means the key is absent and
// the range is the insertion point; afterMember means the point follows
// an existing top-level member and needs a comma.
type valueSpan struct {
	start, end  int
	insert      bool
	afterMember bool
}

// pluginsValue walks the top-level members of the descriptor and
// returns the Plugins entries plus the span to splice a rewritten
// array into.
func pluginsValue(clean []byte) ([]json.RawMessage, valueSpan, error) {
	dec := json.NewDecoder(bytes.NewReader(clean))
	tok, err := dec.Token()
	if err != nil {
		return nil, valueSpan{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, valueSpan{}, fmt.Errorf("not a JSON object")
	}

	at := int(dec.InputOffset())
	span := valueSpan{start: at, end: at, insert: true}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, valueSpan{}, err
		}
		key, _ := tok.(string)
		keyEnd := int(dec.InputOffset())
		var rm json.RawMessage
		if err := dec.Decode(&rm); err != nil {
			return nil, valueSpan{}, err
		}
		valEnd := int(dec.InputOffset())
		if key == "Plugins" {
			var plugins []json.RawMessage
			if err := json.Unmarshal(rm, &plugins); err != nil {
				return nil, valueSpan{}, err
			}
			return plugins, valueSpan{start: keyEnd, end: valEnd}, nil
		}
		span = valueSpan{start: valEnd, end: valEnd, insert: true, afterMember: true}
	}
	return nil, span, nil
}

func splicePlugins(raw []byte, span valueSpan, encoded []byte) []byte {
	var middle []byte
	switch {
	case !span.insert:
		middle = append([]byte(": "), encoded...)
	case span.afterMember:
		middle = append([]byte(",\n\t\"Plugins\": "), encoded...)
	default:
		middle = append([]byte("\n\t\"Plugins\": "), encoded...)
	}
	out := make([]byte, 0, len(raw)+len(middle))
	out = append(out, raw[:span.start]...)
	out = append(out, middle...)
	out = append(out, raw[span.end:]...)
	return out
}

// fixEngineINI ensures the Python plugin settings section carries the
// values remote execution requires. Comparison is case-insensitive to
// match how the editor reads the file.
func (f Fixer) fixEngineINI(path string, report *FixReport) (bool, error) {
	bind := f.BindAddress
	if bind == "" {
		bind = defaultBindAddress
	}
	required := [][2]string{
		{"bRemoteExecution", "True"},
		{"bDeveloperMode", "True"},
		{"RemoteExecutionMulticastBindAddress", bind},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("project: create config dir: %w", err)
	}
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return false, fmt.Errorf("project: parse %q: %w", path, err)
	}

	section := cfg.Section(pythonSettingsSection)
	changed := false
	for _, kv := range required {
		key, want := kv[0], kv[1]
		if strings.EqualFold(section.Key(key).String(), want) {
			continue
		}
		section.Key(key).SetValue(want)
		report.Changed = append(report.Changed, fmt.Sprintf("set %s=%s", key, want))
		changed = true
	}
	if !changed {
		return false, nil
	}

	if err := cfg.SaveTo(path); err != nil {
		return false, fmt.Errorf("project: write %q: %w", path, err)
	}
	return true, nil
}
