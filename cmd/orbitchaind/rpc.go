package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orbitchain/core"
)

// chainInfoResponse is the chain_info RPC operation's response shape.
type chainInfoResponse struct {
	ChainID         uint64 `json:"chain_id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	Height          uint64 `json:"height"`
	LatestBlockHash string `json:"latest_block_hash_hex"`
}

// blockSummary is the shared shape returned by get_block_by_height and
// get_latest_block.
type blockSummary struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash_hex"`
	PrevHash   string `json:"prev_hash_hex"`
	Timestamp  string `json:"timestamp"`
	Validator  string `json:"validator_hex"`
	TxCount    int    `json:"tx_count"`
	MerkleRoot string `json:"merkle_root_hex"`
}

func toBlockSummary(b *core.Block) blockSummary {
	return blockSummary{
		Height:     b.Header.Height,
		Hash:       b.Hash.Hex(),
		PrevHash:   b.Header.PrevHash.Hex(),
		Timestamp:  b.Header.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Validator:  b.Header.Validator.Hex(),
		TxCount:    len(b.Transactions),
		MerkleRoot: b.Header.MerkleRoot.Hex(),
	}
}

// accountResponse is the get_account RPC operation's response shape.
type accountResponse struct {
	Address string `json:"address_hex"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// sendTransactionRequest is the send_transaction RPC operation's request
// shape. Nonce and signature are intentionally absent: the adapter assigns
// the nonce from the sender's current account state and submits on the
// caller's behalf (see sendTransactionHandler).
type sendTransactionRequest struct {
	From     string `json:"from_hex"`
	To       string `json:"to_hex"`
	Amount   uint64 `json:"amount"`
	GasLimit uint64 `json:"gas_limit"`
	GasPrice uint64 `json:"gas_price"`
	DataHex  string `json:"data_hex,omitempty"`
}

type sendTransactionResponse struct {
	TxHash string `json:"tx_hash_hex"`
	Status string `json:"status"`
}

type statsResponse struct {
	Height          uint64 `json:"height"`
	TotalTx         int    `json:"total_tx"`
	TotalAccounts   int    `json:"total_accounts"`
	MempoolSize     int    `json:"mempool_size"`
	ValidatorCount  int    `json:"validator_count"`
	BlockTimeMS     uint64 `json:"block_time_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case core.IsKind(err, core.KindBlockNotFound):
		return http.StatusNotFound
	case core.IsKind(err, core.KindInvalidTransaction), core.IsKind(err, core.KindInvalidBlock),
		core.IsKind(err, core.KindSerialization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func newRouter(ledger *core.Ledger, consensus *core.Consensus, cfg core.ChainConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/chain", chainInfoHandler(ledger, cfg))
	r.Get("/block/latest", latestBlockHandler(ledger))
	r.Get("/block/{height}", blockByHeightHandler(ledger))
	r.Get("/account/{address}", accountHandler(ledger))
	r.Post("/transaction", sendTransactionHandler(ledger, consensus))
	r.Get("/stats", statsHandler(ledger, consensus, cfg))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func chainInfoHandler(ledger *core.Ledger, cfg core.ChainConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := ledger.GetLatestHeight()
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		latest, err := ledger.GetBlock(height)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, chainInfoResponse{
			ChainID: cfg.ChainID, Name: cfg.Name, Symbol: cfg.Symbol, Decimals: cfg.Decimals,
			Height: height, LatestBlockHash: latest.Hash.Hex(),
		})
	}
}

func latestBlockHandler(ledger *core.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		block, err := ledger.GetLatestBlock()
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockSummary(block))
	}
}

func blockByHeightHandler(ledger *core.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid height"))
			return
		}
		block, err := ledger.GetBlock(height)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockSummary(block))
	}
}

func accountHandler(ledger *core.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := core.AddressFromHex(chi.URLParam(r, "address"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		acc, err := ledger.GetAccount(addr)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, accountResponse{Address: acc.Address.Hex(), Balance: acc.Balance, Nonce: acc.Nonce})
	}
}

func sendTransactionHandler(ledger *core.Ledger, consensus *core.Consensus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		from, err := core.AddressFromHex(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		to, err := core.AddressFromHex(req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var data []byte
		if req.DataHex != "" {
			data, err = hex.DecodeString(req.DataHex)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		sender, err := ledger.GetAccount(from)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		tx := &core.Transaction{
			From: from, To: to, Amount: req.Amount, Nonce: sender.Nonce,
			GasLimit: req.GasLimit, GasPrice: req.GasPrice, Data: data,
		}
		tx.Hash = tx.ComputeHash()

		hash, err := consensus.SubmitTransaction(tx)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sendTransactionResponse{TxHash: hash.Hex(), Status: "pending"})
	}
}

func statsHandler(ledger *core.Ledger, consensus *core.Consensus, cfg core.ChainConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := ledger.GetLatestHeight()
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		totalTx, err := ledger.TotalTransactions()
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		totalAccounts, err := ledger.TotalAccounts()
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{
			Height: height, TotalTx: totalTx, TotalAccounts: totalAccounts,
			MempoolSize: consensus.MempoolSize(), ValidatorCount: consensus.ValidatorCount(),
			BlockTimeMS: cfg.BlockTimeMS,
		})
	}
}
