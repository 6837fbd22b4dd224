package lifecycle

import (
	"github.com/tomyedwab/apphost/applog"
	"github.com/tomyedwab/apphost/processes"
)

// SupervisorRunner adapts processes.Supervisor to the Runner interface.
type SupervisorRunner struct {
	Supervisor *processes.Supervisor
}

func (r SupervisorRunner) Spawn(execPath string, args, env []string, dir string, out *applog.Logger) Process {
	return r.Supervisor.Spawn(execPath, args, env, dir, out)
}
