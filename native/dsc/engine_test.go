package dsc

import (
	"errors"
	"math/big"
	"testing"

	"dscd/crypto"
	"dscd/native/oracle"
)

// --- test doubles ---

type mockEngineState struct {
	positions map[string]*Position
	putCalls  int
	failPut   bool
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{positions: make(map[string]*Position)}
}

func (m *mockEngineState) GetPosition(addr crypto.Address) (*Position, error) {
	return m.positions[addr.String()], nil
}

func (m *mockEngineState) PutPosition(pos *Position) error {
	if m.failPut {
		return errors.New("mock state: put failed")
	}
	m.putCalls++
	m.positions[pos.Address.String()] = pos
	return nil
}

type mockFeed struct {
	price *big.Int
	err   error
}

func (f *mockFeed) LatestPrice() (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.price), nil
}

type mockTransferPort struct {
	balances map[string]map[string]*big.Int
	failNext bool
	hook     func() error
}

func newMockTransferPort() *mockTransferPort {
	return &mockTransferPort{balances: make(map[string]map[string]*big.Int)}
}

func (p *mockTransferPort) fund(asset string, addr crypto.Address, amount *big.Int) {
	holders, ok := p.balances[asset]
	if !ok {
		holders = make(map[string]*big.Int)
		p.balances[asset] = holders
	}
	holders[addr.String()] = new(big.Int).Set(amount)
}

func (p *mockTransferPort) balance(asset string, addr crypto.Address) *big.Int {
	holders, ok := p.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	amount, ok := holders[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (p *mockTransferPort) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if p.hook != nil {
		if err := p.hook(); err != nil {
			return err
		}
	}
	if p.failNext {
		p.failNext = false
		return errors.New("mock port: transfer rejected")
	}
	fromBal := p.balance(asset, from)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("mock port: insufficient balance")
	}
	p.fund(asset, from, new(big.Int).Sub(fromBal, amount))
	p.fund(asset, to, new(big.Int).Add(p.balance(asset, to), amount))
	return nil
}

type mockStable struct {
	address  crypto.Address
	balances map[string]*big.Int
	supply   *big.Int
	failMint bool
	failBurn bool
	failPull bool
}

func newMockStable() *mockStable {
	return &mockStable{
		address:  crypto.ModuleAddress("token/DSC"),
		balances: make(map[string]*big.Int),
		supply:   big.NewInt(0),
	}
}

func (s *mockStable) balance(addr crypto.Address) *big.Int {
	amount, ok := s.balances[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (s *mockStable) Mint(to crypto.Address, amount *big.Int) error {
	if s.failMint {
		return errors.New("mock stable: mint rejected")
	}
	s.balances[to.String()] = new(big.Int).Add(s.balance(to), amount)
	s.supply = new(big.Int).Add(s.supply, amount)
	return nil
}

func (s *mockStable) Burn(amount *big.Int) error {
	if s.failBurn {
		return errors.New("mock stable: burn rejected")
	}
	s.supply = new(big.Int).Sub(s.supply, amount)
	return nil
}

func (s *mockStable) TransferFrom(from, to crypto.Address, amount *big.Int) error {
	if s.failPull {
		return errors.New("mock stable: transfer rejected")
	}
	fromBal := s.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("mock stable: insufficient balance")
	}
	s.balances[from.String()] = fromBal.Sub(fromBal, amount)
	s.balances[to.String()] = new(big.Int).Add(s.balance(to), amount)
	return nil
}

func (s *mockStable) Address() crypto.Address { return s.address }

// --- helpers ---

func makeAddress(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.DSCPrefix, buf)
}

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), mustBigInt("1000000000000000000"))
}

// e8 scales a whole-dollar price to the 8-decimal feed representation.
func e8(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

type testEnv struct {
	engine *Engine
	state  *mockEngineState
	port   *mockTransferPort
	stable *mockStable
	feeds  map[string]*mockFeed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	feeds := map[string]*mockFeed{
		"WETH": {price: e8(2000)},
		"WBTC": {price: e8(30000)},
	}
	stable := newMockStable()
	port := newMockTransferPort()
	engine, err := NewEngine(
		[]string{"WETH", "WBTC"},
		[]oracle.PriceFeed{feeds["WETH"], feeds["WBTC"]},
		stable, port,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	state := newMockEngineState()
	engine.SetState(state)
	return &testEnv{engine: engine, state: state, port: port, stable: stable, feeds: feeds}
}

// --- construction ---

func TestNewEngineConfigValidation(t *testing.T) {
	stable := newMockStable()
	port := newMockTransferPort()
	feed := &mockFeed{price: e8(2000)}

	if _, err := NewEngine([]string{"WETH", "WBTC"}, []oracle.PriceFeed{feed}, stable, port); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
	if _, err := NewEngine(nil, nil, stable, port); !errors.Is(err, ErrNoAssets) {
		t.Fatalf("expected ErrNoAssets, got %v", err)
	}
	if _, err := NewEngine([]string{"WETH", "WETH"}, []oracle.PriceFeed{feed, feed}, stable, port); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch for duplicate asset, got %v", err)
	}
}

// --- deposit ---

func TestDepositCollateral(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(20))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(15)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Cmp(wei(15)) != 0 {
		t.Fatalf("unexpected deposit: %s", deposited)
	}
	if custody := env.port.balance("WETH", env.engine.Address()); custody.Cmp(wei(15)) != 0 {
		t.Fatalf("unexpected custody balance: %s", custody)
	}
}

func TestDepositRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)

	if err := env.engine.DepositCollateral(alice, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := env.engine.DepositCollateral(alice, "DOGE", wei(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if env.state.putCalls != 0 {
		t.Fatalf("rejected deposits must not persist state")
	}
}

func TestDepositRollsBackOnTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.failNext = true

	err := env.engine.DepositCollateral(alice, "WETH", wei(5))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Sign() != 0 {
		t.Fatalf("failed deposit left ledger state: %s", deposited)
	}
}

// --- mint ---

func TestMintKeepsHealthyPosition(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	factor, err := env.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// value 20000e18, adjusted 10000e18, debt 5e18 -> 2000e18.
	if factor.Cmp(wei(2000)) != 0 {
		t.Fatalf("unexpected health factor: %s", factor)
	}
	if bal := env.stable.balance(alice); bal.Cmp(wei(5)) != 0 {
		t.Fatalf("unexpected stablecoin balance: %s", bal)
	}
}

func TestMintBreakingHealthFactorRollsBack(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := env.engine.MintDsc(alice, wei(100_000))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor, got %v", err)
	}
	var hfErr *HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("expected HealthFactorError, got %T", err)
	}
	if hfErr.Factor.Cmp(minHealthFactor) >= 0 {
		t.Fatalf("reported factor %s should be below minimum", hfErr.Factor)
	}

	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(5)) != 0 {
		t.Fatalf("failed mint left debt state: %s", debt)
	}
	if supply := env.stable.supply; supply.Cmp(wei(5)) != 0 {
		t.Fatalf("failed mint changed supply: %s", supply)
	}
}

func TestMintFailureRollsBackDebt(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	env.stable.failMint = true
	if err := env.engine.MintDsc(alice, wei(5)); !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("failed mint left debt state: %s", debt)
	}
}

// --- redeem ---

func TestRedeemCollateral(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.RedeemCollateral(alice, "WETH", wei(4)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if bal := env.port.balance("WETH", alice); bal.Cmp(wei(4)) != 0 {
		t.Fatalf("unexpected wallet balance: %s", bal)
	}
	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Cmp(wei(6)) != 0 {
		t.Fatalf("unexpected remaining deposit: %s", deposited)
	}
}

func TestRedeemUnderflow(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(2))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.RedeemCollateral(alice, "WETH", wei(3)); !errors.Is(err, ErrCollateralUnderflow) {
		t.Fatalf("expected ErrCollateralUnderflow, got %v", err)
	}
}

func TestRedeemBreakingHealthFactorRollsBack(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Withdrawing 1 WETH drops adjusted value to 9000 against 10000 debt.
	if err := env.engine.RedeemCollateral(alice, "WETH", wei(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor, got %v", err)
	}
	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Cmp(wei(10)) != 0 {
		t.Fatalf("failed redeem left ledger state: %s", deposited)
	}
	if bal := env.port.balance("WETH", alice); bal.Sign() != 0 {
		t.Fatalf("failed redeem moved funds: %s", bal)
	}
}

// --- burn ---

func TestBurnDsc(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.BurnDsc(alice, wei(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(60)) != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
	if supply := env.stable.supply; supply.Cmp(wei(60)) != 0 {
		t.Fatalf("unexpected supply: %s", supply)
	}
}

func TestBurnUnderflow(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)

	if err := env.engine.BurnDsc(alice, wei(1)); !errors.Is(err, ErrDebtUnderflow) {
		t.Fatalf("expected ErrDebtUnderflow, got %v", err)
	}
}

func TestBurnRollsBackOnCollectFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.stable.failPull = true
	if err := env.engine.BurnDsc(alice, wei(40)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(100)) != 0 {
		t.Fatalf("failed burn changed debt: %s", debt)
	}
}

func TestBurnRollsBackOnBurnFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateral(alice, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDsc(alice, wei(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.stable.failBurn = true
	if err := env.engine.BurnDsc(alice, wei(40)); !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("expected ErrBurnFailed, got %v", err)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(100)) != 0 {
		t.Fatalf("failed burn changed debt: %s", debt)
	}
	// The collected stablecoin is refunded to the payer.
	if bal := env.stable.balance(alice); bal.Cmp(wei(100)) != 0 {
		t.Fatalf("collected stablecoin not refunded: %s", bal)
	}
	if supply := env.stable.supply; supply.Cmp(wei(100)) != 0 {
		t.Fatalf("failed burn changed supply: %s", supply)
	}
}

// --- compositions ---

func TestDepositCollateralAndMintDsc(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(10), wei(5)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	debt, value, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(5)) != 0 || value.Cmp(wei(20_000)) != 0 {
		t.Fatalf("unexpected position: debt=%s value=%s", debt, value)
	}
}

func TestDepositAndMintRefundsCollateralOnMintFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))
	env.stable.failMint = true

	err := env.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(10), wei(5))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	if bal := env.port.balance("WETH", alice); bal.Cmp(wei(10)) != 0 {
		t.Fatalf("collateral not refunded: %s", bal)
	}
	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Sign() != 0 {
		t.Fatalf("failed composite left ledger state: %s", deposited)
	}
}

func TestRedeemCollateralForDsc(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(10), wei(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if err := env.engine.RedeemCollateralForDsc(alice, "WETH", wei(2), wei(100)); err != nil {
		t.Fatalf("redeem for dsc: %v", err)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
	if bal := env.port.balance("WETH", alice); bal.Cmp(wei(2)) != 0 {
		t.Fatalf("unexpected wallet balance: %s", bal)
	}
	if supply := env.stable.supply; supply.Sign() != 0 {
		t.Fatalf("unexpected supply: %s", supply)
	}
}

func TestRedeemForDscRollsBackOnBurnFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	if err := env.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(10), wei(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	env.stable.failBurn = true
	err := env.engine.RedeemCollateralForDsc(alice, "WETH", wei(2), wei(100))
	if !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("expected ErrBurnFailed, got %v", err)
	}

	// Both external transfers are unwound: the paid-out collateral is
	// reclaimed and the collected stablecoin refunded.
	if bal := env.port.balance("WETH", alice); bal.Sign() != 0 {
		t.Fatalf("failed composite left collateral with caller: %s", bal)
	}
	if bal := env.stable.balance(alice); bal.Cmp(wei(100)) != 0 {
		t.Fatalf("collected stablecoin not refunded: %s", bal)
	}
	debt, _, err := env.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(100)) != 0 {
		t.Fatalf("failed composite changed debt: %s", debt)
	}
	deposited, err := env.engine.CollateralDeposited(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Cmp(wei(10)) != 0 {
		t.Fatalf("failed composite changed collateral: %s", deposited)
	}
}

// --- reentrancy ---

func TestReentrantTransferPortRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0x01)
	env.port.fund("WETH", alice, wei(10))

	var nested error
	env.port.hook = func() error {
		nested = env.engine.MintDsc(alice, wei(1))
		return nested
	}

	err := env.engine.DepositCollateral(alice, "WETH", wei(5))
	if !errors.Is(nested, ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall, got %v", nested)
	}
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected outer ErrTransferFailed, got %v", err)
	}

	// The guard must be released after the failed operation.
	env.port.hook = nil
	if err := env.engine.DepositCollateral(alice, "WETH", wei(5)); err != nil {
		t.Fatalf("engine left locked after failure: %v", err)
	}
}

// --- queries ---

func TestQueriesAreEvergreenForFreshAccounts(t *testing.T) {
	env := newTestEnv(t)
	ghost := makeAddress(0x7F)

	factor, err := env.engine.HealthFactor(ghost)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(maxHealthFactor) != 0 {
		t.Fatalf("expected max sentinel, got %s", factor)
	}

	debt, value, err := env.engine.AccountInformation(ghost)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 || value.Sign() != 0 {
		t.Fatalf("fresh account reported non-zero state: debt=%s value=%s", debt, value)
	}

	deposited, err := env.engine.CollateralDeposited(ghost, "WBTC")
	if err != nil {
		t.Fatalf("collateral deposited: %v", err)
	}
	if deposited.Sign() != 0 {
		t.Fatalf("fresh account reported deposit: %s", deposited)
	}
}

func TestQueriesSkipFeedsForEmptyPositions(t *testing.T) {
	env := newTestEnv(t)
	env.feeds["WETH"].err = oracle.ErrStaleQuote
	env.feeds["WBTC"].err = oracle.ErrStaleQuote
	ghost := makeAddress(0x7F)

	if _, err := env.engine.HealthFactor(ghost); err != nil {
		t.Fatalf("empty position must not touch feeds: %v", err)
	}
}

func TestSupportedAssetsOrder(t *testing.T) {
	env := newTestEnv(t)
	assets := env.engine.SupportedAssets()
	if len(assets) != 2 || assets[0] != "WETH" || assets[1] != "WBTC" {
		t.Fatalf("unexpected asset order: %v", assets)
	}
}
