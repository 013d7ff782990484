package server

import (
	"errors"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/command"
	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/metrics"
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
	"go.uber.org/zap"
)

// maxExpireRounds bounds how many sampling rounds one expire cycle may run
// while the expired ratio stays above the threshold
const maxExpireRounds = 16

// Engine coordinates the execution of commands and manages the background tasks of the repository
type Engine struct {
	storage  storage.Storage  // The keyspace; every command is exactly one call into it
	cfg      *config.Config   // Configuration engine
	logger   *zap.Logger
	metrics  *metrics.Metrics // May be nil
	now      func() time.Time // Clock used by full sweeps
	stopGC   chan struct{}    // Channel for the background GC stop signal
	stopOnce sync.Once        // Ensures that the stop happens only once
	wg       sync.WaitGroup   // Tracks the GC goroutine
}

// NewEngine initializes the engine and, if enabled in the config, starts background
// cleanup of outdated keys
func NewEngine(s storage.Storage, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine: nil storage")
	}
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		storage: s,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		stopGC:  make(chan struct{}),
	}

	if cfg.GC.Enabled {
		e.wg.Add(1)
		go e.startGCLoop()
	}

	return e, nil
}

// Execute parses a decoded request and runs it against the keyspace.
// Failures of any kind come back as an error reply
func (e *Engine) Execute(req resp.Value) resp.Value {
	start := time.Now()

	name := ""
	if len(req.Array) > 0 {
		name = string(req.Array[0].String)
	}

	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", name),
			zap.Int("args_count", max(len(req.Array)-1, 0)),
		)
	}

	var res resp.Value
	cmd, err := command.Parse(req)
	if err != nil {
		res = resp.MakeError(err.Error())
	} else {
		res = e.Dispatch(cmd)
	}

	e.metrics.ObserveCommand(name, time.Since(start), res.Type == resp.TypeError)

	return res
}

// Dispatch runs a parsed command. Each case maps to a single storage call,
// which makes every command atomic with respect to the keyspace
func (e *Engine) Dispatch(cmd command.Command) resp.Value {
	switch c := cmd.(type) {
	case command.Ping:
		if c.HasMessage {
			return resp.MakeBulkString(c.Message)
		}
		return resp.MakeSimpleString("PONG")

	case command.Echo:
		return resp.MakeBulkString(c.Message)

	case command.Set:
		if !e.storage.Set(c.Key, c.Value, c.Options) {
			return resp.MakeNilBulkString()
		}
		return resp.MakeOK()

	case command.Get:
		val, ok := e.storage.Get(c.Key)
		if !ok {
			return resp.MakeNilBulkString()
		}
		return resp.MakeBulkString(val)

	case command.MGet:
		vals := e.storage.MGet(c.Keys...)
		res := make([]resp.Value, len(vals))
		for i, v := range vals {
			if v == nil {
				res[i] = resp.MakeNilBulkString()
				continue
			}
			res[i] = resp.MakeBulkString(*v)
		}
		return resp.MakeArray(res)

	case command.Del:
		return resp.MakeInteger(e.storage.Delete(c.Keys...))

	case command.Exists:
		return resp.MakeInteger(e.storage.ExistsCount(c.Keys...))

	case command.IncrBy:
		n, err := e.storage.IncrBy(c.Key, c.Delta)
		switch {
		case errors.Is(err, storage.ErrNotInteger):
			return resp.MakeError(command.MsgNotInteger)
		case errors.Is(err, storage.ErrOverflow):
			return resp.MakeError(command.MsgOverflow)
		case err != nil:
			return resp.MakeError("ERR " + err.Error())
		}
		return resp.MakeInteger(n)

	case command.Expire:
		var ttl time.Duration
		if c.Seconds > 0 {
			ttl = time.Duration(c.Seconds) * time.Second
		}
		return resp.MakeInteger(e.storage.Expire(c.Key, ttl))

	case command.TTL:
		d, status := e.storage.Expiry(c.Key)
		if status != storage.ExpActive {
			return resp.MakeInteger(int64(status))
		}
		if c.Millis {
			return resp.MakeInteger(d.Milliseconds())
		}
		return resp.MakeInteger((d.Milliseconds() + 500) / 1000)

	case command.Persist:
		return resp.MakeInteger(e.storage.Persist(c.Key))

	case command.Keys:
		return resp.MakeBulkArray(e.storage.Keys(c.Pattern))

	case command.FlushAll:
		e.storage.FlushAll()
		return resp.MakeOK()

	case command.DBSize:
		return resp.MakeInteger(int64(e.storage.Len()))

	case command.Info:
		return c.Reply()
	}

	return resp.MakeError("ERR unhandled command '" + cmd.Name() + "'")
}

// ExpireCycle runs one active expiry pass. With sampling disabled it sweeps every
// volatile key, otherwise it samples again while the expired share stays above the threshold.
// Returns the number of sampling rounds run, 0 for a full sweep
func (e *Engine) ExpireCycle() int {
	e.metrics.ExpireCycle()

	gc := e.cfg.GC
	if gc.SamplesPerCheck <= 0 {
		if n := e.storage.SweepExpired(e.now()); n > 0 && e.logger.Core().Enabled(zap.DebugLevel) {
			e.logger.Debug("GC swept expired keys", zap.Int("removed", n))
		}
		return 0
	}

	rounds := 0
	for rounds < maxExpireRounds {
		rounds++
		ratio := e.storage.DeleteExpired(gc.SamplesPerCheck)

		if ratio > 0 && e.logger.Core().Enabled(zap.DebugLevel) {
			e.logger.Debug("GC delete expired", zap.Float64("expired_ratio", ratio))
		}

		if ratio <= gc.MatchThreshold {
			break
		}
	}

	return rounds
}

// startGCLoop triggers the active expiration mechanism
func (e *Engine) startGCLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.GC.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.ExpireCycle()
		case <-e.stopGC:
			return
		}
	}
}

// Shutdown stops the background services and waits for them to exit
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopGC)
		e.wg.Wait()
		e.logger.Info("GC background process stopped")
	})
}
