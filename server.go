package camrelay

import (
	"context"
	"os/exec"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// LaunchBroadcastServer starts the external RTSP broadcast server binary
// pointed at the transport endpoint. The server is an external collaborator:
// it is launched fire-and-forget and never supervised; only a failure to
// launch is reported.
func LaunchBroadcastServer(ctx context.Context, binPath, endpointPath string, logger golog.Logger) error {
	if logger == nil {
		logger = Logger
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(binPath, "--input", endpointPath)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to launch broadcast server %q", binPath)
	}
	logger.Infow("broadcast server launched", "path", binPath, "pid", cmd.Process.Pid)
	utils.PanicCapturingGo(func() {
		// reap only; the server outlives or dies on its own terms
		utils.UncheckedError(cmd.Wait())
	})
	return nil
}
