package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/pathexp"
	"github.com/nlxhq/nlx/internal/session"
)

// imageSave copies the source image to the resolved destination.
func (o *Orchestrator) imageSave(_ context.Context, act *action.Action, sess *session.Context) *action.Result {
	return o.copyFile(act, sess, "image")
}

// musicSave copies the generated track to the resolved destination. When the
// source is still the pending placeholder the track has not been produced
// yet; the action is skipped (not failed) and the handler re-executes it
// once the async music result arrives.
func (o *Orchestrator) musicSave(_ context.Context, act *action.Action, sess *session.Context) *action.Result {
	src := act.StringParam("src_path")
	if src == MusicPendingSrc || (src == "" && sess.StringVariable(session.VarLastGeneratedMusic) == "") {
		o.log.Debug("music_save deferred until music result arrives")
		return &action.Result{
			Kind:      act.Kind,
			Timestamp: time.Now(),
			Success:   true,
			Details:   map[string]any{"skipped": true, "reason": "music not generated yet"},
		}
	}
	if src == "" {
		act.Params["src_path"] = sess.StringVariable(session.VarLastGeneratedMusic)
	}
	return o.copyFile(act, sess, "music")
}

// copyFile implements the shared *_save semantics: resolve dst (shortcuts,
// ~, env vars, relative against the working directory), treat directory-ish
// destinations as a folder to copy into, create missing parents, and
// overwrite existing files.
func (o *Orchestrator) copyFile(act *action.Action, sess *session.Context, label string) *action.Result {
	src := act.StringParam("src_path")
	if src == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "%s_save requires src_path", label)
	}
	dstRaw := act.StringParam("dst_path")
	if dstRaw == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "%s_save requires dst_path", label)
	}

	src = pathexp.Expand(src, sess.WorkingDirectory)
	if _, err := os.Stat(src); err != nil {
		return action.Failure(act.Kind, action.ErrSourceNotFound, "source %s does not exist", src)
	}

	dst := pathexp.Expand(dstRaw, sess.WorkingDirectory)
	if pathexp.LooksLikeDir(dst) || strings.HasSuffix(dstRaw, "/") {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return action.Failure(act.Kind, action.ErrIO, "create directory %s: %v", dst, err)
		}
		name := filepath.Base(src)
		if name == "." || name == string(filepath.Separator) {
			name = fmt.Sprintf("%s_%d%s", label, time.Now().Unix(), filepath.Ext(src))
		}
		dst = filepath.Join(dst, name)
	} else if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return action.Failure(act.Kind, action.ErrIO, "create directory %s: %v", filepath.Dir(dst), err)
	}

	if err := copyContents(src, dst); err != nil {
		return action.Failure(act.Kind, action.ErrIO, "copy %s to %s: %v", src, dst, err)
	}

	return action.Success(act.Kind, map[string]any{
		"saved_path": dst,
		"src_path":   src,
	})
}

// copyContents copies src to dst, overwriting dst if present.
func copyContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return nil
}

// IsSkipped reports whether res marks a deferred (skipped) action.
func IsSkipped(res *action.Result) bool {
	return res != nil && res.Details != nil && res.Details["skipped"] == true
}
