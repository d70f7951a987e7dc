package launch

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// EditorStarter starts the editor fully detached: no inherited stdio, no
// process-group tie, no Wait. The editor must outlive this process.
type EditorStarter struct{}

func (EditorStarter) StartDetached(bin string, args []string) (int, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch: start %q: %w", bin, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("release editor process handle")
	}
	return pid, nil
}
