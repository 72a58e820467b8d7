package pipeline

import (
	"log/slog"

	"github.com/crimson-sun/threadclass/internal/output"
	"github.com/crimson-sun/threadclass/internal/output/async"
	"github.com/crimson-sun/threadclass/internal/output/file"
	"github.com/crimson-sun/threadclass/internal/output/multi"
	"github.com/crimson-sun/threadclass/internal/output/stdout"
	"github.com/crimson-sun/threadclass/internal/output/webhook"
)

// outputs builds the log history destinations the config asks for. The
// webhook is queued so a slow endpoint never holds up training.
func (p *Pipeline) outputs(log *slog.Logger) (output.Output, error) {
	oc := p.cfg.Output
	var outs []output.Output
	if oc.LogFile != "" {
		var opts []file.Option
		if oc.LogMaxSize > 0 {
			opts = append(opts, file.WithMaxSize(oc.LogMaxSize))
		}
		f, err := file.New(oc.LogFile, opts...)
		if err != nil {
			return nil, err
		}
		outs = append(outs, f)
	}
	if oc.Stdout {
		outs = append(outs, stdout.New(false))
	}
	if oc.Webhook != "" {
		hook := webhook.New(oc.Webhook, webhook.WithLogger(log))
		outs = append(outs, async.New(hook, async.WithDropOnFull(), async.WithLogger(log)))
	}
	outs = append(outs, p.extra...)
	return multi.New(outs...), nil
}
