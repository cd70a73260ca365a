package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dscd/crypto"
	"dscd/observability"
)

type operationRequest struct {
	Account    string `json:"account"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mintAmount,omitempty"`
	BurnAmount string `json:"burnAmount,omitempty"`
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Asset       string `json:"asset"`
	Target      string `json:"target"`
	DebtToCover string `json:"debtToCover"`
}

type approveRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type fundRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type operationResponse struct {
	Status string `json:"status"`
}

type collateralEntry struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type accountResponse struct {
	Address            string            `json:"address"`
	Debt               string            `json:"debt"`
	CollateralValueUsd string            `json:"collateralValueUsd"`
	HealthFactor       string            `json:"healthFactor"`
	Collateral         []collateralEntry `json:"collateral"`
	StablecoinBalance  string            `json:"stablecoinBalance"`
}

type assetEntry struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price,omitempty"`
}

type tokenResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Address     string `json:"address"`
	TotalSupply string `json:"totalSupply"`
}

func (s *Server) decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%s: malformed integer %q", field, raw)
	}
	return amount, nil
}

// runOperation executes an engine mutation and renders the outcome, recording
// metrics along the way.
func (s *Server) runOperation(w http.ResponseWriter, name string, fn func() error) {
	start := time.Now()
	err := fn()
	kind := ""
	if err != nil {
		kind = errorKind(err)
	}
	observability.Engine().Observe(name, start, kind)
	if err != nil {
		s.log.Warn("operation rejected", "operation", name, "kind", kind, "err", err)
		writeError(w, err)
		return
	}
	s.log.Info("operation committed", "operation", name, "duration", time.Since(start))
	writeJSON(w, http.StatusOK, operationResponse{Status: "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "deposit_collateral", func() error {
		return s.engine.DepositCollateral(account, req.Asset, amount)
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "redeem_collateral", func() error {
		return s.engine.RedeemCollateral(account, req.Asset, amount)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "mint_dsc", func() error {
		return s.engine.MintDsc(account, amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "burn_dsc", func() error {
		return s.engine.BurnDsc(account, amount)
	})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	mintAmount, err := parseAmount("mintAmount", req.MintAmount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "deposit_and_mint", func() error {
		return s.engine.DepositCollateralAndMintDsc(account, req.Asset, amount, mintAmount)
	})
}

func (s *Server) handleRedeemForDsc(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	burnAmount, err := parseAmount("burnAmount", req.BurnAmount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "redeem_for_dsc", func() error {
		return s.engine.RedeemCollateralForDsc(account, req.Asset, amount, burnAmount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	debtToCover, err := parseAmount("debtToCover", req.DebtToCover)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.runOperation(w, "liquidate", func() error {
		return s.engine.Liquidate(liquidator, req.Asset, target, debtToCover)
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	debt, collateralValue, err := s.engine.AccountInformation(account)
	if err != nil {
		writeError(w, err)
		return
	}
	factor, err := s.engine.HealthFactor(account)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]collateralEntry, 0)
	for _, asset := range s.engine.SupportedAssets() {
		deposited, err := s.engine.CollateralDeposited(account, asset)
		if err != nil {
			writeError(w, err)
			return
		}
		if deposited.Sign() == 0 {
			continue
		}
		value, err := s.engine.UsdValue(asset, deposited)
		if err != nil {
			writeError(w, err)
			return
		}
		entries = append(entries, collateralEntry{
			Asset:    asset,
			Amount:   deposited.String(),
			UsdValue: value.String(),
		})
	}

	writeJSON(w, http.StatusOK, accountResponse{
		Address:            account.String(),
		Debt:               debt.String(),
		CollateralValueUsd: collateralValue.String(),
		HealthFactor:       factor.String(),
		Collateral:         entries,
		StablecoinBalance:  s.stable.BalanceOf(account).String(),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	entries := make([]assetEntry, 0)
	for _, asset := range s.engine.SupportedAssets() {
		entry := assetEntry{Symbol: asset}
		if feed, ok := s.feeds[asset]; ok {
			if price, err := feed.LatestPrice(); err == nil {
				entry.Price = price.String()
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokenResponse{
		Name:        s.stable.Name(),
		Symbol:      s.stable.Symbol(),
		Address:     s.stable.Address().String(),
		TotalSupply: s.stable.TotalSupply().String(),
	})
}

// handleApprove grants the engine an allowance over the caller's stablecoin
// balance so burn and liquidation flows can collect it.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.stable.Approve(owner, s.engine.Address(), amount); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Status: "ok"})
}

// handleSetPrice posts an operator price update; the price is the 1e8-scaled
// USD quote used by the valuation layer.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	feed, ok := s.feeds[strings.TrimSpace(req.Asset)]
	if !ok {
		writeBadRequest(w, fmt.Sprintf("unknown asset %q", req.Asset))
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := feed.SetPrice(price); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("price updated", "asset", req.Asset, "price", price.String())
	writeJSON(w, http.StatusOK, operationResponse{Status: "ok"})
}

// handleFund credits collateral to an account on the bank ledger. This is the
// faucet path for local and test deployments.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.ledger.Credit(req.Asset, to, amount); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Status: "ok"})
}
