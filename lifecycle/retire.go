package lifecycle

import (
	"time"

	"github.com/tomyedwab/apphost/applog"
	"github.com/tomyedwab/apphost/metrics"
)

// retire tears down a superseded version. It runs detached from the actor
// loop and owns its version outright: the process handle and directory are
// referenced by nothing else, so retirements from successive reloads can
// overlap freely.
//
// The first grace period lets requests already routed to the old process
// finish before it is signaled; the second lets in-flight references to the
// old directory drain before it is deleted.
func (a *App) retire(v *version) {
	time.Sleep(a.cfg.DrainGrace)

	a.cfg.Logger.Log(applog.Event{Kind: applog.KindTerminatingOldProcess, Port: v.port})
	v.process.Terminate()
	a.cfg.Ports.Release(v.port)

	time.Sleep(a.cfg.CleanupGrace)

	a.cfg.Logger.Log(applog.Event{Kind: applog.KindRemovingOldFolder, Path: v.dir})
	a.releaseDir(v.dir)
	metrics.RetirementsTotal.Inc()
}
