package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync"
	"time"

	"upgradereg/internal/model"
	"upgradereg/internal/storage"
)

var (
	ErrEnqueueTimeout = errors.New("timed out waiting for the commit log writer")
	ErrClosed         = errors.New("commit log is closed")
)

type CommitLogFlusher struct {
	activeSegment  *os.File
	buffer         bytes.Buffer
	maxBufferBytes int
	syncOnAppend   bool
}

type commitLogMsg struct {
	data     []byte
	buffered chan error
}

type CommitLogCfg struct {
	Path                  string
	EnqueueTimeout        time.Duration
	FlushInterval         time.Duration
	MaxQueuedTransactions int
	BufferBytes           int
	// SyncOnAppend flushes and fsyncs every record before Append returns.
	SyncOnAppend bool
	Logger       *slog.Logger
}

/*
CommitLogManager journals committed ledger transactions.

A single writer goroutine owns the file handle and the buffer:
- Ordering: the channel preserves request order.
- Backpressure: the bounded channel plus EnqueueTimeout makes callers fail
  instead of queueing without limit.
- Handshake: each record carries its own reply channel, so Append returns
  only once the record is buffered (or synced, with SyncOnAppend).
- Shutdown: cancelling the context flushes outstanding data and closes the file.
*/
type CommitLogManager struct {
	flusher CommitLogFlusher
	queue   chan commitLogMsg
	cfg     CommitLogCfg
	flushT  *time.Ticker
	log     *slog.Logger

	appendMu sync.Mutex
	nextSeq  uint64
	stopped  chan struct{}
}

const (
	payloadLenBytes       = 4
	checksumBytes         = 4
	seqNumBytes           = 8
	kindBytes             = 1
	lenFieldSize          = 4
	defaultBufferBytes    = 4 * 1024 * 1024
	minimalBufferBytes    = 128
	defaultMaxQueued      = 1024
	defaultFlushInterval  = time.Second
	defaultEnqueueTimeout = 5 * time.Second
	recordHeaderBytes     = payloadLenBytes + checksumBytes
	minimalPayloadBytes   = seqNumBytes + kindBytes + lenFieldSize + lenFieldSize
	commitLogPermissions  = 0o644
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// NewCommitLogManager opens (or creates) the commit log at cfg.Path and starts
// its writer. A torn or corrupt tail left by a crash is cut off first, so new
// records always follow the last intact one.
func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg) (*CommitLogManager, context.CancelFunc, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	log := cfg.Logger.With("component", "commitlog", "path", cfg.Path)

	recovered, validEnd, size, err := scan(cfg.Path, log)
	if err != nil {
		return nil, nil, err
	}
	if validEnd < size {
		log.Warn("dropping damaged commit log tail", "valid_bytes", validEnd, "file_bytes", size)
		if err := storage.Truncate(cfg.Path, validEnd); err != nil {
			return nil, nil, err
		}
	}
	var nextSeq uint64
	if n := len(recovered); n > 0 {
		nextSeq = recovered[n-1].Sequence + 1
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, commitLogPermissions)
	if err != nil {
		return nil, nil, fmt.Errorf("open commit log: %w", err)
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultBufferBytes
	}
	if bufferBytes < minimalBufferBytes {
		bufferBytes = minimalBufferBytes
	}
	maxQueue := cfg.MaxQueuedTransactions
	if maxQueue <= 0 {
		maxQueue = defaultMaxQueued
	}

	m := &CommitLogManager{
		cfg:     cfg,
		queue:   make(chan commitLogMsg, maxQueue),
		flushT:  time.NewTicker(cfg.FlushInterval),
		log:     log,
		nextSeq: nextSeq,
		stopped: make(chan struct{}),
		flusher: CommitLogFlusher{
			activeSegment:  f,
			maxBufferBytes: bufferBytes,
			syncOnAppend:   cfg.SyncOnAppend,
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(m.stopped)
		m.run(runCtx)
		m.flushT.Stop()
		if err := m.flusher.flush(); err != nil {
			m.log.Error("final commit log flush failed", "error", err)
		}
		_ = m.flusher.activeSegment.Close()
	}()
	log.Info("commit log opened", "records", len(recovered), "next_seq", nextSeq)
	return m, cancel, nil
}

// Done is closed once the writer has flushed and closed the file.
func (cm *CommitLogManager) Done() <-chan struct{} {
	return cm.stopped
}

// Append journals tx under the next sequence number. The sequence only
// advances when the writer accepted the record.
func (cm *CommitLogManager) Append(tx model.Transaction) error {
	cm.appendMu.Lock()
	defer cm.appendMu.Unlock()

	tx.Sequence = cm.nextSeq
	encoded, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	msg := commitLogMsg{data: encoded, buffered: make(chan error, 1)}
	timeout := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timeout.Stop()

	select {
	case <-cm.stopped:
		return ErrClosed
	case cm.queue <- msg:
	case <-timeout.C:
		return ErrEnqueueTimeout
	}

	select {
	case err := <-msg.buffered:
		if err != nil {
			return err
		}
		cm.nextSeq++
		return nil
	case <-cm.stopped:
		// The writer may have handled the record just before stopping.
		select {
		case err := <-msg.buffered:
			if err == nil {
				cm.nextSeq++
			}
			return err
		default:
			return ErrClosed
		}
	}
}

// Load reads every intact record currently on disk, stopping at the first
// truncated or corrupt one.
func (cm *CommitLogManager) Load() []model.Transaction {
	txs, _, _, err := scan(cm.cfg.Path, cm.log)
	if err != nil {
		cm.log.Error("failed to load commit log", "error", err)
		return nil
	}
	return txs
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case msg := <-cm.queue:
			msg.buffered <- cm.flusher.write(msg.data)
		case <-cm.flushT.C:
			if err := cm.flusher.flush(); err != nil {
				cm.log.Error("periodic commit log flush failed", "error", err)
			}
		case <-ctx.Done():
			cm.log.Info("commit log shutting down, flushing active segment")
			// Drain records already handed to the writer.
			for {
				select {
				case msg := <-cm.queue:
					msg.buffered <- cm.flusher.write(msg.data)
				default:
					return
				}
			}
		}
	}
}

func (flusher *CommitLogFlusher) write(data []byte) error {
	if flusher.activeSegment == nil {
		return errors.New("no active segment")
	}
	if len(data) > flusher.maxBufferBytes {
		return fmt.Errorf("commit log record (%d bytes) exceeds buffer size (%d bytes)", len(data), flusher.maxBufferBytes)
	}
	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return err
		}
	}
	if _, err := flusher.buffer.Write(data); err != nil {
		return err
	}
	if flusher.syncOnAppend {
		return flusher.flush()
	}
	return nil
}

func (flusher *CommitLogFlusher) flush() error {
	if flusher.activeSegment == nil {
		return errors.New("no active segment")
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}
	if err := storage.Write(flusher.activeSegment, flusher.buffer.Bytes()); err != nil {
		return err
	}
	if err := flusher.activeSegment.Sync(); err != nil {
		return err
	}
	flusher.buffer.Reset()
	return nil
}

// scan decodes the records of the file at path. It returns the intact
// records, the offset just past the last of them and the file size. A missing
// file is an empty log.
func scan(path string, log *slog.Logger) ([]model.Transaction, int64, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, 0, nil
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open commit log for reading: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("stat commit log: %w", err)
	}
	size := info.Size()

	var (
		txs    []model.Transaction
		offset int64
	)
	for offset < size {
		tx, next, err := readRecord(f, offset, size)
		if err != nil {
			log.Warn("commit log stops at damaged record", "record", len(txs), "offset", offset, "error", err)
			break
		}
		if n := len(txs); n > 0 && tx.Sequence <= txs[n-1].Sequence {
			log.Warn("commit log stops at out-of-order record", "record", n, "seq", tx.Sequence, "prev_seq", txs[n-1].Sequence)
			break
		}
		txs = append(txs, tx)
		offset = next
	}
	return txs, offset, size, nil
}

func readRecord(f *os.File, offset, size int64) (model.Transaction, int64, error) {
	if offset+recordHeaderBytes > size {
		return model.Transaction{}, 0, errors.New("truncated record header")
	}
	header, err := storage.Read(f, offset, recordHeaderBytes)
	if err != nil {
		return model.Transaction{}, 0, err
	}
	if len(header) < recordHeaderBytes {
		return model.Transaction{}, 0, errors.New("short read for record header")
	}
	payloadLen := binary.BigEndian.Uint32(header[:payloadLenBytes])
	expected := binary.BigEndian.Uint32(header[payloadLenBytes:])
	offset += recordHeaderBytes

	if offset+int64(payloadLen) > size {
		return model.Transaction{}, 0, fmt.Errorf("truncated payload: want %d bytes", payloadLen)
	}
	payload, err := storage.Read(f, offset, int(payloadLen))
	if err != nil {
		return model.Transaction{}, 0, err
	}
	if len(payload) < int(payloadLen) {
		return model.Transaction{}, 0, errors.New("short read for payload")
	}
	if actual := crc32.Checksum(payload, crcTable); actual != expected {
		return model.Transaction{}, 0, fmt.Errorf("crc mismatch: expected %x, got %x", expected, actual)
	}

	tx, err := decodePayload(payload)
	if err != nil {
		return model.Transaction{}, 0, err
	}
	return tx, offset + int64(payloadLen), nil
}

/*
encodeTransaction returns the commit log record of tx:

| PayloadLength | CRC32C  | Sequence | Kind   | IDLen   | ID      | BodyLen | Body (JSON) |
|---------------|---------|----------|--------|---------|---------|---------|-------------|
| 4 bytes       | 4 bytes | 8 bytes  | 1 byte | 4 bytes | I bytes | 4 bytes | B bytes     |

The CRC covers the payload, from Sequence to the end of Body.
*/
func encodeTransaction(tx model.Transaction) ([]byte, error) {
	if !tx.Kind.Valid() {
		return nil, fmt.Errorf("invalid transaction kind: %d", tx.Kind)
	}
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}

	payload := make([]byte, 0, minimalPayloadBytes+len(tx.ID)+len(body))
	payload = binary.BigEndian.AppendUint64(payload, tx.Sequence)
	payload = append(payload, byte(tx.Kind))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(tx.ID)))
	payload = append(payload, tx.ID...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(body)))
	payload = append(payload, body...)

	record := make([]byte, 0, recordHeaderBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, crcTable))
	record = append(record, payload...)
	return record, nil
}

func decodePayload(payload []byte) (model.Transaction, error) {
	if len(payload) < minimalPayloadBytes {
		return model.Transaction{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minimalPayloadBytes)
	}
	pos := 0

	seq := binary.BigEndian.Uint64(payload[pos : pos+seqNumBytes])
	pos += seqNumBytes

	kind := model.TxKind(payload[pos])
	if !kind.Valid() {
		return model.Transaction{}, fmt.Errorf("invalid transaction kind: %d", kind)
	}
	pos += kindBytes

	idLen := int(binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize]))
	pos += lenFieldSize
	if pos+idLen+lenFieldSize > len(payload) {
		return model.Transaction{}, fmt.Errorf("id length (%d) exceeds payload bounds", idLen)
	}
	id := string(payload[pos : pos+idLen])
	pos += idLen

	bodyLen := int(binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize]))
	pos += lenFieldSize
	if pos+bodyLen != len(payload) {
		return model.Transaction{}, fmt.Errorf("body length (%d) does not match payload bounds", bodyLen)
	}

	var tx model.Transaction
	if err := json.Unmarshal(payload[pos:pos+bodyLen], &tx); err != nil {
		return model.Transaction{}, fmt.Errorf("decode body: %w", err)
	}
	tx.Sequence = seq
	tx.Kind = kind
	tx.ID = id
	return tx, nil
}
