package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
)

// fakeService 记录每次转发的批次大小
type fakeService struct {
	mu              sync.Mutex
	metricBatches   []int
	annotationCalls int
	failMetrics     bool
	disposed        atomic.Bool
}

func (s *fakeService) PutMetrics(ctx context.Context, metrics []*argus.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMetrics {
		return errors.New("服务端不可用")
	}
	s.metricBatches = append(s.metricBatches, len(metrics))
	return nil
}

func (s *fakeService) PutAnnotations(ctx context.Context, annotations []*argus.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotationCalls++
	return nil
}

func (s *fakeService) Dispose(ctx context.Context) {
	s.disposed.Store(true)
}

// fakeReader 一次性发布固定数量的合成指标
type fakeReader struct {
	metricCount     int
	delay           time.Duration // 开始发布前的延迟
	block           bool          // 发布完后不结束，直到上下文取消
	exited          atomic.Bool   // Collect 是否已经返回
	metricsDone     atomic.Bool
	annotationsDone atomic.Bool
}

func (r *fakeReader) Collect(ctx context.Context, metrics chan<- *argus.Metric, annotations chan<- *argus.Annotation) error {
	defer r.exited.Store(true)
	time.Sleep(r.delay)
	for i := 0; i < r.metricCount; i++ {
		m, err := argus.NewMetric("example", fmt.Sprintf("metric.%d", i))
		if err != nil {
			return err
		}
		m.AddDatapoint(1000, "1")
		select {
		case metrics <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.block {
		<-ctx.Done()
		return nil
	}
	r.metricsDone.Store(true)
	r.annotationsDone.Store(true)
	return nil
}

func (r *fakeReader) MetricsDone() bool     { return r.metricsDone.Load() }
func (r *fakeReader) AnnotationsDone() bool { return r.annotationsDone.Load() }
func (r *fakeReader) Datasource() string    { return "FAKE" }

func TestCollectorChunksLargeBatches(t *testing.T) {
	service := &fakeService{}
	reader := &fakeReader{metricCount: 2500, delay: 10 * time.Millisecond}

	c := NewCollector(service, reader, zap.NewNop())
	c.interval = 100 * time.Millisecond

	if err := c.Run(context.Background(), time.Minute); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	service.mu.Lock()
	batches := service.metricBatches
	service.mu.Unlock()

	total := 0
	for _, n := range batches {
		total += n
		if n > chunkSize {
			t.Errorf("单次转发不应该超过 %d 条，实际 %d 条", chunkSize, n)
		}
	}
	if total != 2500 {
		t.Errorf("应该转发全部 2500 个指标，实际 %d 个", total)
	}
	if len(batches) != 3 {
		t.Errorf("2500 个指标应该分 3 批转发，实际 %d 批: %v", len(batches), batches)
	}
	if batches[0] != 1000 || batches[1] != 1000 || batches[2] != 500 {
		t.Errorf("批次大小应该是 1000/1000/500，实际 %v", batches)
	}
	if !service.disposed.Load() {
		t.Error("转发结束后应该释放客户端")
	}
}

func TestCollectorStopsAtDeadline(t *testing.T) {
	service := &fakeService{}
	reader := &fakeReader{block: true}

	c := NewCollector(service, reader, zap.NewNop())
	c.interval = time.Millisecond
	c.join = time.Second

	start := time.Now()
	if err := c.Run(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("到达截止时间后应该尽快退出，实际耗时 %v", elapsed)
	}
	if !service.disposed.Load() {
		t.Error("到达截止时间后也应该释放客户端")
	}
}

func TestCollectorForwardFailureIsFatal(t *testing.T) {
	service := &fakeService{failMetrics: true}
	reader := &fakeReader{metricCount: 10, block: true}

	c := NewCollector(service, reader, zap.NewNop())
	c.interval = time.Millisecond
	c.join = time.Second

	if err := c.Run(context.Background(), time.Minute); err == nil {
		t.Error("转发失败应该视为致命错误")
	}
	if !reader.exited.Load() {
		t.Error("转发失败后也应该等采集协程退出")
	}
	if !service.disposed.Load() {
		t.Error("转发失败后也应该释放客户端")
	}
}
