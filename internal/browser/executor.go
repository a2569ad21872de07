// internal/browser/executor.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/config"
)

// Page is the surface the executor drives. *Session implements it.
type Page interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	Screenshot(ctx context.Context) (*schemas.Screenshot, error)
	Viewport() (width, height int)
}

var _ Page = (*Session)(nil)

// Executor performs model-prescribed UI actions with raw CDP input events and
// returns a screenshot of the resulting state.
type Executor struct {
	page   Page
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var (
	_ schemas.ActionExecutor = (*Executor)(nil)
	_ schemas.ActionVisitor  = (*Executor)(nil)
)

// NewExecutor creates an executor over page.
func NewExecutor(page Page, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return &Executor{page: page, cfg: cfg, logger: logger.Named("executor")}
}

// Execute performs action. Failures are *schemas.ActionError values whose
// code is reported back to the model.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) (*schemas.Screenshot, error) {
	if err := schemas.Validate(action); err != nil {
		kind := schemas.ActionKind("")
		if action != nil {
			kind = action.Kind()
		}
		return nil, schemas.NewActionError(schemas.ErrCodeInvalidParameters, kind, err)
	}
	kind := action.Kind()
	if kind == schemas.KindMarkDone {
		return nil, schemas.NewActionError(schemas.ErrCodeInvalidParameters, kind, errors.New("the terminal marker is not a UI action"))
	}

	opCtx := ctx
	if e.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.cfg.ActionTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := action.Accept(opCtx, e); err != nil {
		return nil, e.classify(ctx, opCtx, kind, err)
	}

	if kind != schemas.KindScreenshot && kind != schemas.KindWait {
		if err := sleep(opCtx, e.cfg.PostActionWait); err != nil {
			return nil, e.classify(ctx, opCtx, kind, err)
		}
	}

	shot, err := e.page.Screenshot(opCtx)
	if err != nil {
		return nil, e.classify(ctx, opCtx, kind, err)
	}
	e.logger.Debug("Action executed",
		zap.String("action", string(kind)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("screenshot_bytes", len(shot.Data)))
	return shot, nil
}

// classify maps a failure to an error code. Caller cancellation is returned
// as is so the loop can stop instead of reporting it to the model.
func (e *Executor) classify(ctx, opCtx context.Context, kind schemas.ActionKind, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var actionErr *schemas.ActionError
	if errors.As(err, &actionErr) {
		return err
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return schemas.NewActionError(schemas.ErrCodeTimeoutError, kind,
			fmt.Errorf("timed out after %s: %w", e.cfg.ActionTimeout, err))
	}
	return schemas.NewActionError(schemas.ErrCodeExecutionFailure, kind, err)
}

// inViewport fails with ELEMENT_NOT_FOUND when (x, y) lies outside the page.
func (e *Executor) inViewport(kind schemas.ActionKind, x, y int) error {
	w, h := e.page.Viewport()
	if x >= w || y >= h {
		return schemas.NewActionError(schemas.ErrCodeElementNotFound, kind,
			fmt.Errorf("no element at (%d,%d): viewport is %dx%d", x, y, w, h))
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, events []chromedp.Action) error {
	return e.page.Run(ctx, events...)
}

// -- ActionVisitor --

func (e *Executor) VisitClick(ctx context.Context, a schemas.ClickAction) error {
	if err := e.inViewport(a.Kind(), a.X, a.Y); err != nil {
		return err
	}
	return e.dispatch(ctx, clickEvents(a.Button, a.X, a.Y, 1))
}

func (e *Executor) VisitDoubleClick(ctx context.Context, a schemas.DoubleClickAction) error {
	if err := e.inViewport(a.Kind(), a.X, a.Y); err != nil {
		return err
	}
	events := clickEvents(schemas.ButtonLeft, a.X, a.Y, 1)
	events = append(events, clickEvents(schemas.ButtonLeft, a.X, a.Y, 2)[1:]...)
	return e.dispatch(ctx, events)
}

func (e *Executor) VisitDrag(ctx context.Context, a schemas.DragAction) error {
	for _, p := range a.Path {
		if err := e.inViewport(a.Kind(), p.X, p.Y); err != nil {
			return err
		}
	}
	return e.dispatch(ctx, dragEvents(a.Path))
}

func (e *Executor) VisitMove(ctx context.Context, a schemas.MoveAction) error {
	if err := e.inViewport(a.Kind(), a.X, a.Y); err != nil {
		return err
	}
	return e.dispatch(ctx, []chromedp.Action{mouseMoved(a.X, a.Y, 0)})
}

func (e *Executor) VisitType(ctx context.Context, a schemas.TypeAction) error {
	if a.Text == "" {
		return nil
	}
	return e.dispatch(ctx, []chromedp.Action{input.InsertText(a.Text)})
}

func (e *Executor) VisitKeypress(ctx context.Context, a schemas.KeypressAction) error {
	events, err := keypressEvents(a.Keys)
	if err != nil {
		return schemas.NewActionError(schemas.ErrCodeInvalidParameters, a.Kind(), err)
	}
	return e.dispatch(ctx, events)
}

func (e *Executor) VisitScroll(ctx context.Context, a schemas.ScrollAction) error {
	if err := e.inViewport(a.Kind(), a.X, a.Y); err != nil {
		return err
	}
	return e.dispatch(ctx, scrollEvents(a))
}

func (e *Executor) VisitWait(ctx context.Context, _ schemas.WaitAction) error {
	d := e.cfg.WaitDuration
	if d <= 0 {
		d = 2 * time.Second
	}
	return sleep(ctx, d)
}

func (e *Executor) VisitScreenshot(context.Context, schemas.ScreenshotAction) error {
	return nil
}

func (e *Executor) VisitMarkDone(context.Context, schemas.MarkDone) error {
	return errors.New("the terminal marker is not a UI action")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
