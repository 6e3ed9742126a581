package core

// Ledger is the durable, account-based state store: blocks indexed by
// height and by hash, transactions indexed by hash, account records, and
// the pure state-transition primitive apply_transaction.
//
// Persisted records are serialized with RLP and keyed per the byte-exact
// layout mandated for the underlying store: big-endian 8-byte height keys,
// raw 32-byte transaction hashes, raw 20-byte addresses, and ASCII literal
// meta keys. Tree separation is simulated via kvstore's key-prefix
// namespaces since goleveldb itself has one flat keyspace.

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	log "github.com/sirupsen/logrus"

	"orbitchain/internal/kvstore"
)

const metaLatestHeightKey = "latest_height"

// Ledger wraps an embedded key-value store with the chain's record layout
// and state-transition logic. It is safe for concurrent use; the underlying
// store gives per-key atomicity and Ledger uses batches for operations that
// must touch several keys atomically.
type Ledger struct {
	mu  sync.RWMutex
	kv  *kvstore.Store
	log *log.Logger
}

// OpenLedger opens (creating if necessary) a durable Ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, wrapErr(KindDatabase, "open ledger store", err)
	}
	return &Ledger{kv: kv, log: log.StandardLogger()}, nil
}

// OpenInMemoryLedger opens an ephemeral, non-persistent Ledger useful for
// tests and for nodes run with no data directory.
func OpenInMemoryLedger() (*Ledger, error) {
	kv, err := kvstore.OpenInMemory()
	if err != nil {
		return nil, wrapErr(KindDatabase, "open in-memory ledger store", err)
	}
	return &Ledger{kv: kv, log: log.StandardLogger()}, nil
}

// Close releases the underlying store handle.
func (l *Ledger) Close() error { return l.kv.Close() }

// --- on-disk record shadows -------------------------------------------------
//
// time.Time and our Hash/Address fixed arrays are expressed directly in
// these shadow structs (RLP already round-trips fixed byte arrays and
// integers; only time.Time needs converting to a plain uint64).

type txRecord struct {
	From      Address
	To        Address
	Amount    uint64
	Nonce     uint64
	GasLimit  uint64
	GasPrice  uint64
	Data      []byte
	Signature Signature
	Timestamp uint64
}

func toTxRecord(tx *Transaction) txRecord {
	return txRecord{
		From: tx.From, To: tx.To, Amount: tx.Amount, Nonce: tx.Nonce,
		GasLimit: tx.GasLimit, GasPrice: tx.GasPrice, Data: tx.Data,
		Signature: tx.Signature, Timestamp: uint64(tx.Timestamp.Unix()),
	}
}

func (r txRecord) toTransaction() *Transaction {
	tx := &Transaction{
		From: r.From, To: r.To, Amount: r.Amount, Nonce: r.Nonce,
		GasLimit: r.GasLimit, GasPrice: r.GasPrice, Data: r.Data,
		Signature: r.Signature, Timestamp: time.Unix(int64(r.Timestamp), 0).UTC(),
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

type headerRecord struct {
	Version    uint32
	Height     uint64
	Timestamp  uint64
	PrevHash   Hash
	MerkleRoot Hash
	StateRoot  Hash
	Validator  Address
	Signature  Signature
}

type receiptRecord struct {
	TxHash  Hash
	Success bool
	Error   string
}

type blockRecord struct {
	Header       headerRecord
	Transactions []txRecord
	Receipts     []receiptRecord
}

func toBlockRecord(b *Block) blockRecord {
	txs := make([]txRecord, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = toTxRecord(tx)
	}
	receipts := make([]receiptRecord, len(b.Receipts))
	for i, r := range b.Receipts {
		receipts[i] = receiptRecord{TxHash: r.TxHash, Success: r.Success, Error: r.Error}
	}
	h := b.Header
	return blockRecord{
		Header: headerRecord{
			Version: h.Version, Height: h.Height, Timestamp: uint64(h.Timestamp.Unix()),
			PrevHash: h.PrevHash, MerkleRoot: h.MerkleRoot, StateRoot: h.StateRoot,
			Validator: h.Validator, Signature: h.Signature,
		},
		Transactions: txs,
		Receipts:     receipts,
	}
}

func (r blockRecord) toBlock() *Block {
	txs := make([]*Transaction, len(r.Transactions))
	for i, t := range r.Transactions {
		txs[i] = t.toTransaction()
	}
	receipts := make([]Receipt, len(r.Receipts))
	for i, rr := range r.Receipts {
		receipts[i] = Receipt{TxHash: rr.TxHash, Success: rr.Success, Error: rr.Error}
	}
	header := BlockHeader{
		Version: r.Header.Version, Height: r.Header.Height,
		Timestamp: time.Unix(int64(r.Header.Timestamp), 0).UTC(),
		PrevHash:  r.Header.PrevHash, MerkleRoot: r.Header.MerkleRoot,
		StateRoot: r.Header.StateRoot, Validator: r.Header.Validator,
		Signature: r.Header.Signature,
	}
	blk := &Block{Header: header, Transactions: txs, Receipts: receipts}
	blk.Hash = header.Digest()
	return blk
}

type accountRecord struct {
	Balance     uint64
	Nonce       uint64
	CodeHash    Hash
	StorageRoot Hash
}

func toAccountRecord(a Account) accountRecord {
	return accountRecord{Balance: a.Balance, Nonce: a.Nonce, CodeHash: a.CodeHash, StorageRoot: a.StorageRoot}
}

func (r accountRecord) toAccount(addr Address) Account {
	return Account{Address: addr, Balance: r.Balance, Nonce: r.Nonce, CodeHash: r.CodeHash, StorageRoot: r.StorageRoot}
}

func heightKey(h uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, h)
	return b
}

func hashAliasKey(h Hash) []byte {
	return []byte("hash:" + hex.EncodeToString(h[:]))
}

// InitGenesis stores the given genesis block at height 0 and sets
// latest_height=0. It is idempotent only when called with the same genesis
// content; the caller is responsible for that invariant.
func (l *Ledger) InitGenesis(block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.storeBlockLocked(block, nil); err != nil {
		return err
	}
	l.log.WithFields(log.Fields{"height": block.Header.Height}).Info("genesis stored")
	return nil
}

// StoreBlock persists a block and the account state it produced in a single
// atomic batch: the height record, the hash alias, every contained
// transaction, every account in touchedAccounts (the working set built up by
// ApplyTransaction while producing the block), and the latest_height marker.
// Because the account records travel in the same batch as the block, a
// failure here leaves neither the block nor the account debits/credits
// durable: the caller is free to requeue the block's transactions without
// risk of stale on-disk nonces.
func (l *Ledger) StoreBlock(block *Block, touchedAccounts map[Address]Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.storeBlockLocked(block, touchedAccounts)
}

func (l *Ledger) storeBlockLocked(block *Block, touchedAccounts map[Address]Account) error {
	rec := toBlockRecord(block)
	data, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return wrapErr(KindSerialization, "encode block", err)
	}

	batch := l.kv.NewBatch()
	batch.Put(kvstore.TreeBlocks, heightKey(block.Header.Height), data)
	batch.Put(kvstore.TreeBlocksByHash, hashAliasKey(block.Hash), heightKey(block.Header.Height))

	for _, tx := range block.Transactions {
		txData, err := rlp.EncodeToBytes(toTxRecord(tx))
		if err != nil {
			return wrapErr(KindSerialization, "encode transaction", err)
		}
		batch.Put(kvstore.TreeTransactions, tx.Hash[:], txData)
	}

	for addr, acc := range touchedAccounts {
		accData, err := rlp.EncodeToBytes(toAccountRecord(acc))
		if err != nil {
			return wrapErr(KindSerialization, "encode account", err)
		}
		batch.Put(kvstore.TreeAccounts, addr[:], accData)
	}

	batch.Put(kvstore.TreeMeta, []byte(metaLatestHeightKey), heightKey(block.Header.Height))

	if err := l.kv.Write(batch); err != nil {
		return wrapErr(KindDatabase, "store block", err)
	}
	l.log.WithFields(log.Fields{"height": block.Header.Height, "txs": len(block.Transactions)}).Info("block stored")
	return nil
}

// GetBlock returns the block at the given height.
func (l *Ledger) GetBlock(height uint64) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, err := l.kv.Get(kvstore.TreeBlocks, heightKey(height))
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrBlockNotFound
		}
		return nil, wrapErr(KindDatabase, "get block", err)
	}
	return decodeBlock(data)
}

// GetBlockByHash returns the block with the given hash.
func (l *Ledger) GetBlockByHash(hash Hash) (*Block, error) {
	l.mu.RLock()
	heightBytes, err := l.kv.Get(kvstore.TreeBlocksByHash, hashAliasKey(hash))
	l.mu.RUnlock()
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrBlockNotFound
		}
		return nil, wrapErr(KindDatabase, "get block alias", err)
	}
	return l.GetBlock(binary.BigEndian.Uint64(heightBytes))
}

// GetLatestHeight returns the height of the most recently stored block.
func (l *Ledger) GetLatestHeight() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, err := l.kv.Get(kvstore.TreeMeta, []byte(metaLatestHeightKey))
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, ErrBlockNotFound
		}
		return 0, wrapErr(KindDatabase, "get latest height", err)
	}
	return binary.BigEndian.Uint64(data), nil
}

// GetLatestBlock returns the most recently stored block.
func (l *Ledger) GetLatestBlock() (*Block, error) {
	h, err := l.GetLatestHeight()
	if err != nil {
		return nil, err
	}
	return l.GetBlock(h)
}

func decodeBlock(data []byte) (*Block, error) {
	var rec blockRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, wrapErr(KindSerialization, "decode block", err)
	}
	return rec.toBlock(), nil
}

// GetTransaction returns a previously stored transaction by hash.
func (l *Ledger) GetTransaction(hash Hash) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, err := l.kv.Get(kvstore.TreeTransactions, hash[:])
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrBlockNotFound
		}
		return nil, wrapErr(KindDatabase, "get transaction", err)
	}
	var rec txRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, wrapErr(KindSerialization, "decode transaction", err)
	}
	return rec.toTransaction(), nil
}

// GetAccount returns the materialized account for address, or a fresh
// zero-balance account if none has been written yet. Unknown addresses never
// produce an error.
func (l *Ledger) GetAccount(addr Address) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getAccountLocked(addr)
}

func (l *Ledger) getAccountLocked(addr Address) (Account, error) {
	data, err := l.kv.Get(kvstore.TreeAccounts, addr[:])
	if err != nil {
		if err == leveldb.ErrNotFound {
			return Account{Address: addr}, nil
		}
		return Account{}, wrapErr(KindDatabase, "get account", err)
	}
	var rec accountRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return Account{}, wrapErr(KindSerialization, "decode account", err)
	}
	return rec.toAccount(addr), nil
}

// UpdateAccount persists the given account record.
func (l *Ledger) UpdateAccount(acc Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateAccountLocked(acc)
}

func (l *Ledger) updateAccountLocked(acc Account) error {
	data, err := rlp.EncodeToBytes(toAccountRecord(acc))
	if err != nil {
		return wrapErr(KindSerialization, "encode account", err)
	}
	if err := l.kv.Put(kvstore.TreeAccounts, acc.Address[:], data); err != nil {
		return wrapErr(KindDatabase, "update account", err)
	}
	return nil
}

// ApplyTransaction is the pure account state-transition primitive:
//  1. load sender account (from working, falling through to the ledger)
//  2. sender.nonce != tx.nonce -> InvalidNonce
//  3. cost = amount + gas_limit*gas_price; sender.balance < cost -> InsufficientBalance
//  4. debit cost from sender, increment sender nonce
//  5. load recipient account, credit amount
//  6. stage both accounts into working
//
// ApplyTransaction never touches the store: it only mutates working, the
// caller's in-memory overlay of not-yet-committed account state. This lets a
// block producer stage every transaction's effects and commit them with the
// block in one StoreBlock batch, so a later transaction in the same block
// sees the prior one's debit/credit and a store failure never leaves
// balances changed without the block that caused them.
func (l *Ledger) ApplyTransaction(working map[Address]Account, tx *Transaction) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sender, err := l.workingAccount(working, tx.From)
	if err != nil {
		return err
	}
	if sender.Nonce != tx.Nonce {
		return ErrInvalidNonce
	}
	cost, err := tx.TotalCost()
	if err != nil {
		return err
	}
	if sender.Balance < cost {
		return ErrInsufficientBalance
	}

	sender.Balance -= cost
	sender.Nonce++

	recipient, err := l.workingAccount(working, tx.To)
	if err != nil {
		return err
	}
	recipient.Balance += tx.Amount

	working[tx.From] = sender
	working[tx.To] = recipient
	return nil
}

// workingAccount returns addr's account from working if staged there
// already, otherwise loads it from the store.
func (l *Ledger) workingAccount(working map[Address]Account, addr Address) (Account, error) {
	if acc, ok := working[addr]; ok {
		return acc, nil
	}
	return l.getAccountLocked(addr)
}

// Mint credits amount to address's balance, used only during genesis
// bootstrap.
func (l *Ledger) Mint(addr Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getAccountLocked(addr)
	if err != nil {
		return err
	}
	acc.Balance += amount
	return l.updateAccountLocked(acc)
}

// StateRoot computes a commitment to every account in the ledger, with
// overlay laid on top: entries in overlay (the working set a block producer
// has staged via ApplyTransaction but not yet committed through StoreBlock)
// take precedence over what is currently on disk, and overlay-only entries
// (accounts touched for the first time in the block being produced) are
// included too. Each account's RLP encoding is hashed, and the resulting
// leaves are folded with MerkleRoot in ascending address order. Pass a nil
// or empty overlay to compute the root of durable state alone. This is a
// real account-state commitment, not a placeholder.
func (l *Ledger) StateRoot(overlay map[Address]Account) (Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[Address]Account, len(overlay))
	err := l.kv.Iterate(kvstore.TreeAccounts, func(k, v []byte) bool {
		var addr Address
		copy(addr[:], k)
		var rec accountRecord
		if err := rlp.DecodeBytes(v, &rec); err != nil {
			return false
		}
		merged[addr] = rec.toAccount(addr)
		return true
	})
	if err != nil {
		return Hash{}, wrapErr(KindDatabase, "iterate accounts", err)
	}
	for addr, acc := range overlay {
		merged[addr] = acc
	}

	addrs := make([]Address, 0, len(merged))
	for addr := range merged {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	leaves := make([]Hash, len(addrs))
	for i, addr := range addrs {
		data, err := rlp.EncodeToBytes(toAccountRecord(merged[addr]))
		if err != nil {
			return Hash{}, wrapErr(KindSerialization, "encode account", err)
		}
		leaves[i] = H(data)
	}
	return MerkleRoot(leaves), nil
}

// TotalAccounts returns the number of materialized accounts.
func (l *Ledger) TotalAccounts() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	err := l.kv.Iterate(kvstore.TreeAccounts, func(k, v []byte) bool {
		n++
		return true
	})
	if err != nil {
		return 0, wrapErr(KindDatabase, "iterate accounts", err)
	}
	return n, nil
}

// TotalTransactions returns the number of indexed transactions.
func (l *Ledger) TotalTransactions() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	err := l.kv.Iterate(kvstore.TreeTransactions, func(k, v []byte) bool {
		n++
		return true
	})
	if err != nil {
		return 0, wrapErr(KindDatabase, "iterate transactions", err)
	}
	return n, nil
}
