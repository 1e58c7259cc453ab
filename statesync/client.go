package statesync

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"golang.org/x/sync/errgroup"

	"github.com/monadexec/execore/rlp"
	"github.com/monadexec/execore/triedb"
	"github.com/monadexec/execore/types"
	"github.com/monadexec/execore/xlog"
)

// Client errors.
var (
	ErrRootMismatch   = errors.New("statesync: recomputed root does not match target")
	ErrShardRetriesExhausted = errors.New("statesync: shard retry budget exhausted")
)

// Peer is the one seam into the network: a real implementation streams a
// shard from whichever remote peer it chooses (and may itself rotate
// peers across retries); P2P transport is out of scope here, so Client
// only ever talks to this interface.
type Peer interface {
	RequestShard(req ShardRequest) (<-chan Message, error)
}

// ClientConfig configures a Client's sharding depth and retry budget.
type ClientConfig struct {
	ShardDepth          int // k in the 16^k prefix division
	MaxRetries          int
	MaxConcurrentShards int // 0 means the Client picks a default
}

// DefaultClientConfig divides the key space into 256 shards (depth 2),
// allows 3 attempts per shard before giving up, and syncs up to 8 shards
// concurrently.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{ShardDepth: 2, MaxRetries: 3, MaxConcurrentShards: 8}
}

// Client drives the state-sync protocol against a Peer, staging each
// shard's records in an on-disk Pebble store before committing
// them to the local Triedb, per pkg/sync/trie_sync.go's
// pending/processed/committed lifecycle (here: staged/committed).
type Client struct {
	tdb   *triedb.Triedb
	stage *pebble.DB
	peer  Peer
	cfg   ClientConfig
	log   *xlog.Logger
}

// NewClient opens (or resumes) a staging store at stagePath.
func NewClient(tdb *triedb.Triedb, stagePath string, peer Peer, cfg ClientConfig, log *xlog.Logger) (*Client, error) {
	if log == nil {
		log = xlog.Default().Module("statesync")
	}
	stage, err := pebble.Open(stagePath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("statesync: open staging store: %w", err)
	}
	return &Client{tdb: tdb, stage: stage, peer: peer, cfg: cfg, log: log}, nil
}

// Close releases the staging store.
func (c *Client) Close() error { return c.stage.Close() }

// Sync drives every shard to completion and verifies the final state root
// against targetRoot. All shards committed and the root matching is what
// signals the local DB is ready to resume normal block processing.
func (c *Client) Sync(targetRoot types.Hash, from, until uint64) error {
	var g errgroup.Group
	g.SetLimit(c.shardConcurrency())
	for _, prefix := range Shards(c.cfg.ShardDepth) {
		prefix := prefix
		g.Go(func() error {
			if err := c.syncShard(prefix, targetRoot, from, until); err != nil {
				return fmt.Errorf("statesync: shard %x: %w", prefix, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if got := c.tdb.StateRoot(); got != targetRoot {
		return fmt.Errorf("%w: have %s, want %s", ErrRootMismatch, got.Hex(), targetRoot.Hex())
	}
	return nil
}

// shardConcurrency bounds how many shards sync in parallel; shards share
// one staging store (keys namespaced by prefix) and Triedb.Commit takes
// its own lock, so this is purely a fan-out width, not a correctness
// constraint.
func (c *Client) shardConcurrency() int {
	if c.cfg.MaxConcurrentShards > 0 {
		return c.cfg.MaxConcurrentShards
	}
	return 8
}

// syncShard streams one shard, writing records to the staging store as
// they arrive, and retries against the peer (who may itself switch
// remotes) on failure. Each attempt first clears the shard's staged
// records and re-requests the whole shard; staged records are never read
// back, so an interrupted shard is downloaded again from the start.
func (c *Client) syncShard(prefix []byte, targetRoot types.Hash, from, until uint64) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := c.clearStaged(prefix); err != nil {
			return err
		}

		ch, err := c.peer.RequestShard(ShardRequest{Prefix: prefix, TargetRoot: targetRoot, From: from, Until: until})
		if err != nil {
			lastErr = err
			continue
		}

		accounts := make(map[types.Address]*triedb.AccountUpdate)
		var order []types.Address
		var header *types.Header
		var done *DoneRecord
		var lastAddr types.Address

		accountUpdate := func(addr types.Address) *triedb.AccountUpdate {
			u, ok := accounts[addr]
			if !ok {
				u = &triedb.AccountUpdate{Address: addr}
				accounts[addr] = u
				order = append(order, addr)
			}
			return u
		}

		for msg := range ch {
			switch msg.Type {
			case MsgUpsertAccount:
				rec := msg.Account
				if err := c.stageAccount(prefix, rec); err != nil {
					return err
				}
				acct := rec.Account
				accountUpdate(rec.Address).Account = &acct
				lastAddr = rec.Address
			case MsgUpsertStorage:
				rec := msg.Storage
				if err := c.stageStorage(prefix, rec); err != nil {
					return err
				}
				u := accountUpdate(rec.Address)
				u.Storage = append(u.Storage, triedb.StorageWrite{Slot: rec.Slot, Value: rec.Value})
			case MsgUpsertCode:
				rec := msg.Code
				if err := c.stageCode(prefix, rec); err != nil {
					return err
				}
				// UPSERT_CODE always follows the UPSERT_ACCOUNT it
				// belongs to (see Server.RequestShard).
				accountUpdate(lastAddr).Code = rec.Code
			case MsgUpsertHeader:
				header = msg.Header.Header
			case MsgDone:
				done = msg.Done
			}
		}

		if done == nil || !done.Success {
			lastErr = fmt.Errorf("shard stream ended without success")
			continue
		}

		updates := make([]triedb.AccountUpdate, 0, len(order))
		for _, addr := range order {
			u := accounts[addr]
			if u.Account == nil {
				continue
			}
			updates = append(updates, *u)
		}

		in := triedb.CommitInput{BlockID: until, Header: header, Accounts: updates}
		if _, err := c.tdb.Commit(in); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrShardRetriesExhausted, lastErr)
	}
	return ErrShardRetriesExhausted
}

// Staging keys are namespaced by prefix so clearStaged can delete
// exactly one shard's records before each attempt re-downloads them;
// they are not cleared after a successful commit.
func stagingPrefix(prefix []byte) []byte {
	return append([]byte("ss:"), prefix...)
}

func (c *Client) stageAccount(prefix []byte, rec *AccountRecord) error {
	enc, err := rlp.EncodeToBytes(rec.Account)
	if err != nil {
		return err
	}
	key := append(stagingPrefix(prefix), append([]byte("a:"), rec.Address.Bytes()...)...)
	return c.stage.Set(key, enc, pebble.Sync)
}

func (c *Client) stageStorage(prefix []byte, rec *StorageRecord) error {
	enc, err := rlp.EncodeToBytes(rec.Value)
	if err != nil {
		return err
	}
	key := append(stagingPrefix(prefix), append([]byte("s:"), append(rec.Address.Bytes(), rec.Slot.Bytes()...)...)...)
	return c.stage.Set(key, enc, pebble.Sync)
}

func (c *Client) stageCode(prefix []byte, rec *CodeRecord) error {
	key := append(stagingPrefix(prefix), append([]byte("c:"), rec.Hash.Bytes()...)...)
	return c.stage.Set(key, rec.Code, pebble.Sync)
}

// clearStaged removes every staged record for prefix, used before a
// retry re-downloads the shard from scratch.
func (c *Client) clearStaged(prefix []byte) error {
	lo := stagingPrefix(prefix)
	hi := append(bytes.Clone(lo), 0xff)
	return c.stage.DeleteRange(lo, hi, pebble.Sync)
}
