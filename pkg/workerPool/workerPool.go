package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
	closeMu   sync.RWMutex
	closed    bool
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type Room struct {
	bufferSize int
	resultChan chan interface{}
	wg         sync.WaitGroup
	wp         *WorkerPool
}

type Task struct {
	run  func() interface{}
	room *Room
}

var ErrPoolClosed = fmt.Errorf("worker pool is closed")

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1024
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		t.room.resultChan <- t.run()
		t.room.wg.Done()
	}
}

// Close stops the workers once queued tasks have drained. Tasks submitted
// after Close fail with ErrPoolClosed.
func (wp *WorkerPool) Close() {
	wp.closeMu.Lock()
	defer wp.closeMu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.taskQueue)
}

func (wp *WorkerPool) CreateRoom(size int) *Room {
	return &Room{
		bufferSize: size,
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

// Submit runs job on a worker and waits for its result or for ctx.
func (wp *WorkerPool) Submit(ctx context.Context, job func() interface{}) (interface{}, error) {
	ro := wp.CreateRoom(1)
	if err := ro.NewTask(job); err != nil {
		return nil, err
	}

	select {
	case r := <-ro.resultChan:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ro *Room) NewTask(job func() interface{}) error {
	ro.wp.closeMu.RLock()
	defer ro.wp.closeMu.RUnlock()

	if ro.wp.closed {
		return ErrPoolClosed
	}

	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return fmt.Errorf("global buffer is full: %d tasks queued", cap(ro.wp.taskQueue))
	}

	if len(ro.resultChan) == cap(ro.resultChan) {
		return fmt.Errorf("room buffer is full: %d results pending", ro.bufferSize)
	}

	ro.wg.Add(1)
	ro.wp.taskQueue <- Task{run: job, room: ro}

	return nil
}

// Collect waits for every task of the room and returns their results in
// completion order.
func (ro *Room) Collect() []interface{} {
	go ro.waitAndClose()
	results := make([]interface{}, 0, ro.bufferSize)

	for result := range ro.resultChan {
		results = append(results, result)
	}

	return results
}

func (ro *Room) waitAndClose() {
	ro.wg.Wait()
	close(ro.resultChan)
}
