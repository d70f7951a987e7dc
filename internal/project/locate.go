package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoProjectFile  = errors.New("project: no .uproject descriptor found")
	ErrEditorNotFound = errors.New("project: no editor installation found")
)

// nameSearchDepth bounds the upward walk used for naming only. Root
// discovery walks all the way to the filesystem root.
const nameSearchDepth = 6

func descriptorsIn(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.uproject"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// FindRoot walks upward from start until it reaches a directory holding
// a .uproject descriptor. Returns the directory and the descriptor path.
func FindRoot(start string) (root, descriptor string, err error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", "", fmt.Errorf("%w: resolve %q: %v", ErrNoProjectFile, start, err)
	}
	for {
		if found := descriptorsIn(dir); len(found) > 0 {
			if len(found) > 1 {
				log.Warn().Str("dir", dir).Int("count", len(found)).
					Msg("multiple project descriptors, using first")
			}
			return dir, found[0], nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("%w: searched upward from %q", ErrNoProjectFile, start)
		}
		dir = parent
	}
}

// FindName resolves the project name (descriptor basename without
// extension) by searching start and a bounded number of parents. A
// directory holding more than one descriptor is ambiguous and reports
// no name rather than guessing.
func FindName(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for range nameSearchDepth {
		found := descriptorsIn(dir)
		if len(found) == 1 {
			base := filepath.Base(found[0])
			return strings.TrimSuffix(base, filepath.Ext(base)), true
		}
		if len(found) > 1 {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// EditorLocator probes conventional install roots for editor binaries.
// Zero value probes the platform defaults; tests and non-standard
// installs override Roots.
type EditorLocator struct {
	Roots []string
}

func defaultSearchRoots() []string {
	switch runtime.GOOS {
	case "windows":
		pf := os.Getenv("ProgramFiles")
		if pf == "" {
			pf = `C:\Program Files`
		}
		return []string{
			filepath.Join(pf, "Epic Games"),
			`D:\Epic Games`,
			`E:\Epic Games`,
			`C:\Epic Games`,
		}
	case "darwin":
		return []string{"/Users/Shared/Epic Games"}
	default:
		home, _ := os.UserHomeDir()
		roots := []string{"/opt/unreal-engine", "/opt/UnrealEngine"}
		if home != "" {
			roots = append(roots, filepath.Join(home, "UnrealEngine"))
		}
		return roots
	}
}

func editorBinary(install string) string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(install, "Engine", "Binaries", "Win64", "UnrealEditor.exe")
	case "darwin":
		return filepath.Join(install, "Engine", "Binaries", "Mac",
			"UnrealEditor.app", "Contents", "MacOS", "UnrealEditor")
	default:
		return filepath.Join(install, "Engine", "Binaries", "Linux", "UnrealEditor")
	}
}

// installations lists UE_5* install directories under the search roots,
// newest version first.
func (l EditorLocator) installations() []string {
	roots := l.Roots
	if len(roots) == 0 {
		roots = defaultSearchRoots()
	}
	var installs []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), "UE_5") {
				installs = append(installs, filepath.Join(root, e.Name()))
			}
		}
	}
	sort.Slice(installs, func(i, j int) bool {
		return filepath.Base(installs[i]) > filepath.Base(installs[j])
	})
	return installs
}

// Locate returns the newest installed editor binary.
func (l EditorLocator) Locate() (string, error) {
	for _, install := range l.installations() {
		bin := editorBinary(install)
		if info, err := os.Stat(bin); err == nil && !info.IsDir() {
			log.Debug().Str("editor", bin).Msg("editor located")
			return bin, nil
		}
	}
	return "", ErrEditorNotFound
}
