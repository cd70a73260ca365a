package dsc

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"dscd/core/events"
	"dscd/crypto"
	"dscd/native/oracle"
)

// moduleName identifies the engine custody account.
const moduleName = "dsc/engine"

// EngineAddress returns the deterministic custody address for the engine
// module. Hosts need it ahead of construction to grant the engine its token
// capabilities.
func EngineAddress() crypto.Address {
	return crypto.ModuleAddress(moduleName)
}

// EngineState is the persistence boundary for positions. Implementations must
// return a nil position (not an error) for accounts with no history.
type EngineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(pos *Position) error
}

// TransferPort moves collateral assets between holders. It is an untrusted
// external boundary: calls may fail and may attempt to reenter the engine.
type TransferPort interface {
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
}

// Stablecoin is the mint/burn capability granted to the engine at
// construction. Burn destroys tokens from engine custody; TransferFrom pulls
// tokens a payer has approved for the engine.
type Stablecoin interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(amount *big.Int) error
	TransferFrom(from, to crypto.Address, amount *big.Int) error
	Address() crypto.Address
}

// Engine orchestrates every state transition of the stablecoin system:
// collateral deposits and redemptions, debt minting and burning, and
// liquidations. All mutating operations are all-or-nothing and hold a
// reentrancy guard across their external calls.
type Engine struct {
	state     EngineState
	valuator  *Valuator
	stable    Stablecoin
	transfers TransferPort
	emitter   events.Emitter
	address   crypto.Address
	busy      atomic.Bool
}

// NewEngine wires the collateral set, price feeds, stablecoin capability and
// transfer port. Assets and feeds are ordered, equal-length lists; a mismatch
// is a construction error, never a runtime one.
func NewEngine(assets []string, feeds []oracle.PriceFeed, stable Stablecoin, transfers TransferPort) (*Engine, error) {
	valuator, err := NewValuator(assets, feeds)
	if err != nil {
		return nil, err
	}
	if stable == nil {
		return nil, fmt.Errorf("%w: stablecoin capability required", ErrConfigMismatch)
	}
	if transfers == nil {
		return nil, fmt.Errorf("%w: transfer port required", ErrConfigMismatch)
	}
	return &Engine{
		valuator:  valuator,
		stable:    stable,
		transfers: transfers,
		emitter:   events.NoopEmitter{},
		address:   crypto.ModuleAddress(moduleName),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetEmitter wires the event sink. A nil emitter restores the noop sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Address returns the engine custody account that holds deposited collateral
// and collected stablecoin.
func (e *Engine) Address() crypto.Address { return e.address }

// enter acquires the reentrancy guard. Every mutating operation takes the
// guard before its first ledger read and releases it on all exit paths, so a
// transfer port or feed that calls back into the engine mid-operation is
// rejected instead of observing half-applied state.
func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) leave() { e.busy.Store(false) }

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	} else {
		pos = pos.Clone()
	}
	pos.EnsureDefaults()
	return pos, nil
}

func (e *Engine) validateDeposit(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.valuator.Supports(asset) {
		return ErrUnsupportedAsset
	}
	return nil
}

// DepositCollateral credits the caller's position and pulls the asset into
// engine custody. Deposits only improve solvency, so no health check runs.
func (e *Engine) DepositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.depositCollateral(caller, asset, amount)
}

func (e *Engine) depositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := e.validateDeposit(asset, amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	pos.addCollateral(asset, amount)
	if err := e.transfers.Transfer(asset, caller, e.address, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: caller, Asset: asset, Amount: amount})
	return nil
}

// MintDsc records new debt against the caller and mints the stablecoin to
// them, provided the resulting health factor stays above the minimum.
func (e *Engine) MintDsc(caller crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	pos.increaseDebt(amount)
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return breaksHealthFactor(factor)
	}
	if err := e.stable.Mint(caller, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return e.state.PutPosition(pos)
}

// RedeemCollateral returns collateral from the caller's position to their
// wallet, provided their health factor survives the withdrawal.
func (e *Engine) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.valuator.Supports(asset) {
		return ErrUnsupportedAsset
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if err := pos.removeCollateral(asset, amount); err != nil {
		return err
	}
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return breaksHealthFactor(factor)
	}
	if err := e.transfers.Transfer(asset, e.address, caller, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: caller, To: caller, Asset: asset, Amount: amount})
	return nil
}

// BurnDsc retires caller debt by collecting the stablecoin from their wallet
// and burning it. Burning cannot worsen solvency; the re-check is defensive.
func (e *Engine) BurnDsc(caller crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.burnDsc(caller, caller, amount)
}

// burnDsc retires debt recorded against onBehalfOf using tokens collected
// from payer. The collected tokens sit in engine custody for the burn.
func (e *Engine) burnDsc(payer, onBehalfOf crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := e.loadPosition(onBehalfOf)
	if err != nil {
		return err
	}
	if err := pos.decreaseDebt(amount); err != nil {
		return err
	}
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return breaksHealthFactor(factor)
	}
	if err := e.stable.TransferFrom(payer, e.address, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Burn(amount); err != nil {
		// Return the collected stablecoin before aborting.
		if refundErr := e.stable.TransferFrom(e.address, payer, amount); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrBurnFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	return e.state.PutPosition(pos)
}

// DepositCollateralAndMintDsc composes deposit and mint into one atomic
// operation over a single tentative position.
func (e *Engine) DepositCollateralAndMintDsc(caller crypto.Address, asset string, amount, mintAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if err := e.validateDeposit(asset, amount); err != nil {
		return err
	}
	if mintAmount == nil || mintAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	pos.addCollateral(asset, amount)
	pos.increaseDebt(mintAmount)
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return breaksHealthFactor(factor)
	}
	if err := e.transfers.Transfer(asset, caller, e.address, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Mint(caller, mintAmount); err != nil {
		// Compensate the already-executed inbound transfer before aborting.
		if refundErr := e.transfers.Transfer(asset, e.address, caller, amount); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrMintFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: caller, Asset: asset, Amount: amount})
	return nil
}

// RedeemCollateralForDsc composes burn and redeem into one atomic operation
// over a single tentative position.
func (e *Engine) RedeemCollateralForDsc(caller crypto.Address, asset string, amount, burnAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if amount == nil || amount.Sign() <= 0 || burnAmount == nil || burnAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.valuator.Supports(asset) {
		return ErrUnsupportedAsset
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if err := pos.decreaseDebt(burnAmount); err != nil {
		return err
	}
	if err := pos.removeCollateral(asset, amount); err != nil {
		return err
	}
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if !healthy(factor) {
		return breaksHealthFactor(factor)
	}
	if err := e.stable.TransferFrom(caller, e.address, burnAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.transfers.Transfer(asset, e.address, caller, amount); err != nil {
		// Return the collected stablecoin before aborting.
		if refundErr := e.stable.TransferFrom(e.address, caller, burnAmount); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrTransferFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Burn(burnAmount); err != nil {
		// Unwind both completed transfers before aborting.
		if reclaimErr := e.transfers.Transfer(asset, caller, e.address, amount); reclaimErr != nil {
			return fmt.Errorf("%w: %v (reclaim also failed: %v)", ErrBurnFailed, err, reclaimErr)
		}
		if refundErr := e.stable.TransferFrom(e.address, caller, burnAmount); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrBurnFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: caller, To: caller, Asset: asset, Amount: amount})
	return nil
}

// Liquidate lets a third party repay part of an unhealthy position's debt in
// exchange for the equivalent collateral plus the liquidation bonus. The
// operation commits only if it strictly improves the target's health factor
// and leaves the liquidator solvent.
func (e *Engine) Liquidate(liquidator crypto.Address, asset string, target crypto.Address, debtToCover *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.valuator.Supports(asset) {
		return ErrUnsupportedAsset
	}

	targetPos, err := e.loadPosition(target)
	if err != nil {
		return err
	}
	startingFactor, err := e.positionHealthFactor(targetPos)
	if err != nil {
		return err
	}
	if healthy(startingFactor) {
		return ErrHealthFactorOK
	}

	seized, err := e.valuator.TokenAmountFromUsd(asset, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(seized, big.NewInt(liquidationBonus))
	bonus.Quo(bonus, big.NewInt(liquidationPrecision))
	totalSeized := new(big.Int).Add(seized, bonus)

	if err := targetPos.removeCollateral(asset, totalSeized); err != nil {
		return err
	}
	if err := targetPos.decreaseDebt(debtToCover); err != nil {
		return err
	}

	endingFactor, err := e.positionHealthFactor(targetPos)
	if err != nil {
		return err
	}
	if endingFactor.Cmp(startingFactor) <= 0 {
		return ErrHealthFactorNotImproved
	}

	// The liquidator's own ledger position is untouched by this operation, so
	// its health factor can be validated before any external effect runs. A
	// liquidator liquidating themselves is judged on the post-seizure state.
	liquidatorPos := targetPos
	if !liquidator.Equal(target) {
		liquidatorPos, err = e.loadPosition(liquidator)
		if err != nil {
			return err
		}
	}
	liquidatorFactor, err := e.positionHealthFactor(liquidatorPos)
	if err != nil {
		return err
	}
	if !healthy(liquidatorFactor) {
		return breaksHealthFactor(liquidatorFactor)
	}

	// Collect the covered debt first so a failed collateral payout can be
	// compensated by refunding the collection.
	if err := e.stable.TransferFrom(liquidator, e.address, debtToCover); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.transfers.Transfer(asset, e.address, liquidator, totalSeized); err != nil {
		if refundErr := e.stable.TransferFrom(e.address, liquidator, debtToCover); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrTransferFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.stable.Burn(debtToCover); err != nil {
		// Unwind both completed transfers before aborting.
		if reclaimErr := e.transfers.Transfer(asset, liquidator, e.address, totalSeized); reclaimErr != nil {
			return fmt.Errorf("%w: %v (reclaim also failed: %v)", ErrBurnFailed, err, reclaimErr)
		}
		if refundErr := e.stable.TransferFrom(e.address, liquidator, debtToCover); refundErr != nil {
			return fmt.Errorf("%w: %v (refund also failed: %v)", ErrBurnFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := e.state.PutPosition(targetPos); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: target, To: liquidator, Asset: asset, Amount: totalSeized})
	return nil
}

// --- Queries ---
//
// The query surface is pure and evergreen: for structurally valid input it
// never fails, including for accounts with no history. Oracle reads are the
// only fallible dependency and are reached only when a position actually
// carries collateral or debt.

// HealthFactor reports the scaled solvency ratio for the account.
func (e *Engine) HealthFactor(account crypto.Address) (*big.Int, error) {
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return e.positionHealthFactor(pos)
}

// AccountInformation reports the outstanding debt and total collateral value.
func (e *Engine) AccountInformation(account crypto.Address) (debt *big.Int, collateralValueUsd *big.Int, err error) {
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, nil, err
	}
	value, err := e.valuator.CollateralValue(pos)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pos.Debt), value, nil
}

// AccountCollateralValue reports the total USD value of deposited collateral.
func (e *Engine) AccountCollateralValue(account crypto.Address) (*big.Int, error) {
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return e.valuator.CollateralValue(pos)
}

// CollateralDeposited reports the recorded balance of one asset.
func (e *Engine) CollateralDeposited(account crypto.Address, asset string) (*big.Int, error) {
	if !e.valuator.Supports(asset) {
		return nil, ErrUnsupportedAsset
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return pos.CollateralBalance(asset), nil
}

// UsdValue converts an asset amount to its 1e18-scaled USD value.
func (e *Engine) UsdValue(asset string, amount *big.Int) (*big.Int, error) {
	return e.valuator.UsdValue(asset, amount)
}

// TokenAmountFromUsd converts a 1e18-scaled USD value into asset units.
func (e *Engine) TokenAmountFromUsd(asset string, usdAmount *big.Int) (*big.Int, error) {
	return e.valuator.TokenAmountFromUsd(asset, usdAmount)
}

// SupportedAssets returns the collateral set in construction order.
func (e *Engine) SupportedAssets() []string {
	return e.valuator.SupportedAssets()
}

// StablecoinAddress returns the identity of the stablecoin ledger.
func (e *Engine) StablecoinAddress() crypto.Address {
	return e.stable.Address()
}
