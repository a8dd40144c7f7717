package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chunkdrop/internal/events"
	"chunkdrop/internal/repository"
	"chunkdrop/internal/storage"

	"github.com/google/uuid"
)

// worker 负责一个上传从创建到终止的全过程，是唯一访问目标文件和对应记录的 goroutine。
type worker struct {
	opts   *Options
	route  *route
	logger *slog.Logger

	id         uuid.UUID
	key        string
	dst        storage.Destination
	written    int64
	registered bool
}

func newWorker(opts *Options, r *route) *worker {
	return &worker{opts: opts, route: r, logger: opts.Logger}
}

func (w *worker) run(ctx context.Context, init initiateRequest, register, exited chan<- registration) {
	if err := w.bootstrap(ctx, init.meta); err != nil {
		w.logger.Warn("upload bootstrap failed", "error", err)
		sessionsFinished.WithLabelValues(outcomeBootstrap).Inc()
		close(w.route.done)
		init.reply <- initResult{err: err}
		return
	}

	// 先注册再返回 id，保证第一个分块一定能找到路由
	select {
	case register <- registration{id: w.id, route: w.route}:
		w.registered = true
		sessionsActive.Inc()
	case <-ctx.Done():
		w.cleanup(ctx)
		w.terminate(ctx, exited, outcomeShutdown, ErrClosed)
		init.reply <- initResult{err: ErrClosed}
		return
	}

	w.logger.Debug("upload started", "id", w.id)
	init.reply <- initResult{id: w.id}

	w.serve(ctx, exited)
}

// bootstrap 插入记录并创建目标文件。文件创建成功后才提交记录，失败时不留下任何数据。
func (w *worker) bootstrap(ctx context.Context, meta []byte) error {
	id, err := w.opts.NewID()
	if err != nil {
		return fmt.Errorf("generate upload id: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pending, err := w.opts.Repo.Begin(opCtx, id, meta)
	if err != nil {
		return fmt.Errorf("create upload record: %w", err)
	}

	key := id.String()
	dst, err := w.opts.Files.Create(key)
	if err != nil {
		if rbErr := pending.Rollback(); rbErr != nil {
			w.logger.Error("rollback upload record", "id", id, "error", rbErr)
		}
		return fmt.Errorf("create upload file: %w", err)
	}

	if err := pending.Commit(); err != nil {
		dst.Close()
		if rmErr := w.opts.Files.Remove(key); rmErr != nil {
			w.logger.Error("remove file after failed commit", "id", id, "error", rmErr)
		}
		return fmt.Errorf("commit upload record: %w", err)
	}

	w.id, w.key, w.dst = id, key, dst
	return nil
}

func (w *worker) serve(ctx context.Context, exited chan<- registration) {
	idle := time.NewTimer(w.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-w.route.inbox:
			// 调用方已放弃的分块不写入，也不重置空闲计时
			if err := req.ctx.Err(); err != nil {
				req.reply <- chunkResult{outcome: Continue, err: err}
				continue
			}
			if len(req.data) == 0 {
				w.complete(ctx, req, exited)
				return
			}

			if err := w.write(req.data); err != nil {
				w.fail(ctx, req, exited, err)
				return
			}
			req.reply <- chunkResult{outcome: Continue}
			idle.Reset(w.opts.IdleTimeout)

		case <-idle.C:
			w.logger.Info("upload idle timeout", "id", w.id, "written", w.written)
			w.cleanup(ctx)
			w.terminate(ctx, exited, outcomeTimeout, ErrIncompleteUpload)
			return

		case <-ctx.Done():
			w.logger.Info("upload aborted by shutdown", "id", w.id, "written", w.written)
			w.cleanup(ctx)
			w.terminate(ctx, exited, outcomeShutdown, ErrIncompleteUpload)
			return
		}
	}
}

func (w *worker) write(data []byte) error {
	n, err := w.dst.Write(data)
	w.written += int64(n)
	uploadBytes.Add(float64(n))
	if err != nil {
		return fmt.Errorf("write to disk: %w", err)
	}
	return nil
}

// complete 先刷盘并标记记录完成，然后才回复 Done。
func (w *worker) complete(ctx context.Context, req chunkRequest, exited chan<- registration) {
	if err := w.dst.Sync(); err != nil {
		w.fail(ctx, req, exited, fmt.Errorf("flush file: %w", err))
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	if err := w.opts.Repo.MarkCompleted(opCtx, w.id, w.opts.Now()); err != nil {
		w.fail(ctx, req, exited, fmt.Errorf("mark upload completed: %w", err))
		return
	}

	if err := w.dst.Close(); err != nil {
		w.logger.Warn("close completed file", "id", w.id, "error", err)
	}
	w.dst = nil

	req.reply <- chunkResult{outcome: Done}
	w.logger.Info("upload completed", "id", w.id, "size", w.written)
	w.terminate(ctx, exited, outcomeCompleted, nil)

	w.archive(ctx)
}

func (w *worker) fail(ctx context.Context, req chunkRequest, exited chan<- registration, cause error) {
	w.logger.Error("upload failed", "id", w.id, "written", w.written, "error", cause)
	w.cleanup(ctx)
	req.reply <- chunkResult{err: cause}
	w.terminate(ctx, exited, outcomeFailed, cause)
}

// cleanup 是所有非成功退出的补偿动作：关闭句柄、删除文件、删除记录。失败只记录日志。
func (w *worker) cleanup(ctx context.Context) {
	if w.dst != nil {
		if err := w.dst.Close(); err != nil {
			w.logger.Warn("close aborted file", "id", w.id, "error", err)
		}
		w.dst = nil
	}

	if err := w.opts.Files.Remove(w.key); err != nil {
		w.logger.Error("remove aborted file", "id", w.id, "error", err)
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := w.opts.Repo.Delete(opCtx, w.id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		w.logger.Error("delete aborted upload record", "id", w.id, "error", err)
	}
}

// terminate 使路由失效、通知 dispatcher 并发布结果事件，之后 worker 不再处理任何消息。
func (w *worker) terminate(ctx context.Context, exited chan<- registration, outcome string, cause error) {
	close(w.route.done)
	sessionsFinished.WithLabelValues(outcome).Inc()

	if w.registered {
		sessionsActive.Dec()
		select {
		case exited <- registration{id: w.id, route: w.route}:
		case <-ctx.Done():
		}
	}

	ev := events.Event{
		Type: events.TypeCompleted,
		ID:   w.id,
		Size: w.written,
		At:   w.opts.Now().UTC(),
	}
	if cause != nil {
		ev.Type = events.TypeAborted
		ev.Reason = outcome
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.opts.Events.Publish(pubCtx, ev); err != nil {
		w.logger.Warn("publish upload event", "id", w.id, "type", ev.Type, "error", err)
	}
}

// archive 把完成的上传复制到归档存储。本地文件仍是权威数据，失败只记录日志。
func (w *worker) archive(ctx context.Context) {
	if w.opts.Archive == nil {
		return
	}

	src, err := w.opts.Files.Read(ctx, w.key)
	if err != nil {
		w.logger.Error("open upload for archive", "id", w.id, "error", err)
		return
	}
	defer src.Close()

	loc, err := w.opts.Archive.Write(ctx, w.key, src)
	if err != nil {
		w.logger.Error("archive upload", "id", w.id, "error", err)
		return
	}
	w.logger.Info("upload archived", "id", w.id, "location", loc.URL)
}
