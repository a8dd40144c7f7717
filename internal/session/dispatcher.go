package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type request interface {
	isRequest()
}

type initiateRequest struct {
	meta  []byte
	reply chan<- initResult
}

type initResult struct {
	id  uuid.UUID
	err error
}

type chunkRequest struct {
	ctx   context.Context
	id    uuid.UUID
	data  []byte
	reply chan<- chunkResult
}

type chunkResult struct {
	outcome AppendOutcome
	err     error
}

func (initiateRequest) isRequest() {}
func (chunkRequest) isRequest()    {}

// route 是 dispatcher 眼中的一个 worker。inbox 无缓冲，只有 worker 接收时发送才成功；
// worker 进入终止状态后关闭 done。
type route struct {
	inbox chan chunkRequest
	done  chan struct{}
}

func newRoute() *route {
	return &route{
		inbox: make(chan chunkRequest),
		done:  make(chan struct{}),
	}
}

func (r *route) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

type registration struct {
	id    uuid.UUID
	route *route
}

// dispatcher 持有路由表，只有 run 所在的 goroutine 访问 active。
type dispatcher struct {
	opts     *Options
	requests <-chan request
	register chan registration
	exited   chan registration
	active   map[uuid.UUID]*route
	workers  sync.WaitGroup
}

func newDispatcher(opts *Options, requests <-chan request) *dispatcher {
	return &dispatcher{
		opts:     opts,
		requests: requests,
		register: make(chan registration),
		exited:   make(chan registration),
		active:   make(map[uuid.UUID]*route),
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		d.drainRegistrations()

		select {
		case <-ctx.Done():
			return
		case reg := <-d.register:
			d.add(reg)
		case reg := <-d.exited:
			d.remove(reg)
		case req := <-d.requests:
			d.handle(ctx, req)
		}
	}
}

// drainRegistrations 让待处理的注册严格优先于分块请求。
func (d *dispatcher) drainRegistrations() {
	for {
		select {
		case reg := <-d.register:
			d.add(reg)
		default:
			return
		}
	}
}

func (d *dispatcher) add(reg registration) {
	if existing, ok := d.active[reg.id]; ok && !existing.finished() {
		panic(fmt.Sprintf("session: duplicate registration for %s", reg.id))
	}
	d.active[reg.id] = reg.route
}

func (d *dispatcher) remove(reg registration) {
	if current, ok := d.active[reg.id]; ok && current == reg.route {
		delete(d.active, reg.id)
	}
}

func (d *dispatcher) handle(ctx context.Context, req request) {
	switch req := req.(type) {
	case initiateRequest:
		d.spawn(ctx, req)
	case chunkRequest:
		d.drainRegistrations()
		d.forward(req)
	}
}

func (d *dispatcher) spawn(ctx context.Context, req initiateRequest) {
	w := newWorker(d.opts, newRoute())

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		w.run(ctx, req, d.register, d.exited)
	}()
}

func (d *dispatcher) forward(req chunkRequest) {
	r, ok := d.active[req.id]
	if !ok {
		req.reply <- chunkResult{outcome: Gone}
		return
	}
	if r.finished() {
		delete(d.active, req.id)
		req.reply <- chunkResult{outcome: Gone}
		return
	}

	// 交付需要等待 worker，因此放在独立 goroutine 中；worker 先退出则返回 Gone
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		select {
		case r.inbox <- req:
		case <-r.done:
			req.reply <- chunkResult{outcome: Gone}
		case <-req.ctx.Done():
		}
	}()
}
