package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/chain"
	"github.com/NovaDovaDao/doviumV2/internal/chain/solana/rpc"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
)

// maxPollFailures consecutive head-signature failures end a poll watch.
const maxPollFailures = 5

var errNoWSURL = errors.New("websocket watch requires a ws url")

// wsHandle joins one stream per token program. The first stream to end
// takes the others down with it.
type wsHandle struct {
	streams  []tokenStream
	notifyMu sync.Mutex
	done     chan struct{}
	endOnce  sync.Once

	mu        sync.Mutex
	cancelled bool
}

func (a *Adapter) watchWebSocket(ctx context.Context, address string, onChange func()) (chain.WatchHandle, error) {
	if a.wsURL == "" {
		return nil, errNoWSURL
	}

	h := &wsHandle{done: make(chan struct{})}
	notify := func() {
		h.notifyMu.Lock()
		defer h.notifyMu.Unlock()
		onChange()
	}
	for _, program := range tokenPrograms {
		stream, err := a.subscribe(ctx, a.wsURL, program, address, notify, a.logger)
		if err != nil {
			_ = h.closeAll()
			return nil, fmt.Errorf("programSubscribe %s for %s: %w", program, address, err)
		}
		h.streams = append(h.streams, stream)
	}

	var wg sync.WaitGroup
	for _, stream := range h.streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-stream.Done()
			h.endOnce.Do(func() {
				if h.isCancelled() {
					return
				}
				metrics.WatchStreamsDropped.WithLabelValues("solana", string(WatchModeWebSocket)).Inc()
				a.logger.Warn("websocket watch dropped", "address", address)
				_ = h.closeAll()
			})
		}()
	}
	go func() {
		wg.Wait()
		close(h.done)
	}()
	return h, nil
}

func (h *wsHandle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *wsHandle) closeAll() error {
	var errs []error
	for _, stream := range h.streams {
		if err := stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *wsHandle) Cancel() error {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	return h.closeAll()
}

func (h *wsHandle) Done() <-chan struct{} {
	return h.done
}

type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// pollState holds the newest known signature of the owner and of each
// token account it owns. A transfer into an existing token account does
// not reference the owner, so the accounts are polled too. Creating or
// closing one does, which is when the account set is listed again.
type pollState struct {
	owner string
	heads map[string]string
}

func (a *Adapter) watchPoll(ctx context.Context, address string, onChange func()) (chain.WatchHandle, error) {
	st := &pollState{owner: address}
	if err := a.resetPollState(ctx, st); err != nil {
		return nil, fmt.Errorf("poll baseline %s: %w", address, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &pollHandle{cancel: cancel, done: make(chan struct{})}
	go a.pollLoop(loopCtx, h, st, onChange)
	return h, nil
}

func (a *Adapter) pollLoop(ctx context.Context, h *pollHandle, st *pollState, onChange func()) {
	defer close(h.done)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		changed, err := a.pollOnce(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			a.logger.Warn("poll watch head lookup failed",
				"address", st.owner,
				"consecutive_failures", failures,
				"error", err,
			)
			if failures >= maxPollFailures {
				metrics.WatchStreamsDropped.WithLabelValues("solana", string(WatchModePoll)).Inc()
				return
			}
			continue
		}
		failures = 0

		if changed {
			onChange()
		}
	}
}

// pollOnce reports whether any watched head moved. Heads are only
// committed once every lookup of the round succeeded.
func (a *Adapter) pollOnce(ctx context.Context, st *pollState) (bool, error) {
	ownerHead, err := a.headSignature(ctx, st.owner)
	if err != nil {
		return false, err
	}
	if ownerHead != st.heads[st.owner] {
		return true, a.resetPollState(ctx, st)
	}

	moved := make(map[string]string)
	for account, head := range st.heads {
		if account == st.owner {
			continue
		}
		next, err := a.headSignature(ctx, account)
		if err != nil {
			return false, err
		}
		if next != head {
			moved[account] = next
		}
	}
	for account, head := range moved {
		st.heads[account] = head
	}
	return len(moved) > 0, nil
}

// resetPollState lists the owner's token accounts again and records the
// current head of each.
func (a *Adapter) resetPollState(ctx context.Context, st *pollState) error {
	ownerHead, err := a.headSignature(ctx, st.owner)
	if err != nil {
		return err
	}
	accounts, err := a.tokenAccounts(ctx, st.owner)
	if err != nil {
		return err
	}

	heads := make(map[string]string, len(accounts)+1)
	heads[st.owner] = ownerHead
	for _, acct := range accounts {
		head, err := a.headSignature(ctx, acct.Pubkey)
		if err != nil {
			return err
		}
		heads[acct.Pubkey] = head
	}
	st.heads = heads
	return nil
}

func (a *Adapter) headSignature(ctx context.Context, address string) (string, error) {
	var sigs []rpc.SignatureInfo
	err := a.withRetry(ctx, "getSignaturesForAddress", func(ctx context.Context) error {
		var err error
		sigs, err = a.client.GetSignaturesForAddress(ctx, address, &rpc.GetSignaturesOpts{Limit: 1})
		return err
	})
	if err != nil {
		return "", err
	}
	if len(sigs) == 0 {
		return "", nil
	}
	return sigs[0].Signature, nil
}

// Cancel stops the poll loop. Done closes once an in-flight onChange returns.
func (h *pollHandle) Cancel() error {
	h.cancel()
	return nil
}

func (h *pollHandle) Done() <-chan struct{} {
	return h.done
}
