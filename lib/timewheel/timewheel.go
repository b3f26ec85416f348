package timewheel

/*
时间轮：把任务按到期时间放进环形槽位，指针每个 interval 前进一格，执行当前槽位中圈数归零的任务。
集群客户端用它定时刷新拓扑。
*/

import (
	"container/list"
	"sync"
	"time"

	"github.com/CodingCaius/godis-cluster/lib/logger"
)

// 记录任务在时间轮中的位置
type location struct {
	slot  int
	etask *list.Element
}

// TimeWheel runs jobs after a given delay, with a resolution of one interval
type TimeWheel struct {
	interval time.Duration
	ticker   *time.Ticker
	slots    []*list.List

	timer             map[string]*location // key -> 任务位置
	currentPos        int
	slotNum           int
	addTaskChannel    chan task
	removeTaskChannel chan string
	stopChannel       chan struct{}
	stopOnce          sync.Once
}

type task struct {
	delay  time.Duration
	circle int
	key    string
	job    func()
}

// New creates a time wheel, nil if interval or slotNum is not positive
func New(interval time.Duration, slotNum int) *TimeWheel {
	if interval <= 0 || slotNum <= 0 {
		return nil
	}
	tw := &TimeWheel{
		interval:          interval,
		slots:             make([]*list.List, slotNum),
		timer:             make(map[string]*location),
		slotNum:           slotNum,
		addTaskChannel:    make(chan task),
		removeTaskChannel: make(chan string),
		stopChannel:       make(chan struct{}),
	}
	for i := 0; i < slotNum; i++ {
		tw.slots[i] = list.New()
	}
	return tw
}

// Start starts ticker for time wheel
func (tw *TimeWheel) Start() {
	tw.ticker = time.NewTicker(tw.interval)
	go tw.start()
}

// Stop stops the time wheel, pending jobs never run
func (tw *TimeWheel) Stop() {
	tw.stopOnce.Do(func() {
		close(tw.stopChannel)
	})
}

// AddJob schedules job after delay. A job with the same non-empty key replaces the pending one.
func (tw *TimeWheel) AddJob(delay time.Duration, key string, job func()) {
	if delay < 0 {
		return
	}
	select {
	case tw.addTaskChannel <- task{delay: delay, key: key, job: job}:
	case <-tw.stopChannel:
	}
}

// RemoveJob cancels the pending job of key, nothing happens if it already ran
func (tw *TimeWheel) RemoveJob(key string) {
	if key == "" {
		return
	}
	select {
	case tw.removeTaskChannel <- key:
	case <-tw.stopChannel:
	}
}

func (tw *TimeWheel) start() {
	for {
		select {
		case <-tw.ticker.C:
			tw.tickHandler()
		case task := <-tw.addTaskChannel:
			tw.addTask(&task)
		case key := <-tw.removeTaskChannel:
			tw.removeTask(key)
		case <-tw.stopChannel:
			tw.ticker.Stop()
			return
		}
	}
}

// tickHandler runs in the wheel goroutine, the only one touching slots and timer
func (tw *TimeWheel) tickHandler() {
	l := tw.slots[tw.currentPos]
	tw.currentPos = (tw.currentPos + 1) % tw.slotNum
	for e := l.Front(); e != nil; {
		t := e.Value.(*task)
		if t.circle > 0 {
			t.circle--
			e = e.Next()
			continue
		}
		go runJob(t.job)
		next := e.Next()
		l.Remove(e)
		if t.key != "" {
			delete(tw.timer, t.key)
		}
		e = next
	}
}

func runJob(job func()) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err)
		}
	}()
	job()
}

func (tw *TimeWheel) addTask(t *task) {
	if t.key != "" {
		tw.removeTask(t.key)
	}
	pos, circle := tw.getPositionAndCircle(t.delay)
	t.circle = circle
	e := tw.slots[pos].PushBack(t)
	if t.key != "" {
		tw.timer[t.key] = &location{slot: pos, etask: e}
	}
}

func (tw *TimeWheel) getPositionAndCircle(d time.Duration) (pos int, circle int) {
	steps := int(d / tw.interval)
	circle = steps / tw.slotNum
	pos = (tw.currentPos + steps) % tw.slotNum
	return
}

func (tw *TimeWheel) removeTask(key string) {
	loc, ok := tw.timer[key]
	if !ok {
		return
	}
	tw.slots[loc.slot].Remove(loc.etask)
	delete(tw.timer, key)
}
