package rpc

import (
	"encoding/json"
)

type windowParams struct {
	Window string `json:"window,omitempty"`
}

type collateralParams struct {
	User   string `json:"user"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type mintParams struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type burnParams struct {
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf"`
	Payer      string `json:"payer,omitempty"`
}

type depositAndMintParams struct {
	User          string `json:"user"`
	Symbol        string `json:"symbol"`
	DepositAmount string `json:"depositAmount"`
	MintAmount    string `json:"mintAmount"`
}

type redeemForStableParams struct {
	User             string `json:"user"`
	Symbol           string `json:"symbol"`
	CollateralAmount string `json:"collateralAmount"`
	BurnAmount       string `json:"burnAmount"`
}

type liquidateParams struct {
	Symbol      string `json:"symbol"`
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type userParams struct {
	User string `json:"user"`
}

func (s *Server) dispatchCPI(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "cpi_periodIndex":
		return s.cpiPeriodIndex(params)
	case "cpi_inflationRate":
		return s.cpiInflationRate(params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) cpiPeriodIndex(raw json.RawMessage) (interface{}, *rpcError) {
	var params windowParams
	if len(raw) > 0 {
		if rpcErr := decodeParams(raw, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	window, rpcErr := parseWindow(params.Window)
	if rpcErr != nil {
		return nil, rpcErr
	}
	index, err := s.node.CPIPeriodIndex(window)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"window": window.String(), "index": bigString(index)}, nil
}

func (s *Server) cpiInflationRate(raw json.RawMessage) (interface{}, *rpcError) {
	var params windowParams
	if len(raw) > 0 {
		if rpcErr := decodeParams(raw, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	window, rpcErr := parseWindow(params.Window)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rate, err := s.node.CPIPeriodInflationRate(window)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"window": window.String(), "inflationRate": bigString(rate)}, nil
}

func (s *Server) dispatchStable(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "stable_depositCollateral":
		return s.stableDepositCollateral(params)
	case "stable_redeemCollateral":
		return s.stableRedeemCollateral(params)
	case "stable_mint":
		return s.stableMint(params)
	case "stable_burn":
		return s.stableBurn(params)
	case "stable_depositAndMint":
		return s.stableDepositAndMint(params)
	case "stable_redeemCollateralForStable":
		return s.stableRedeemCollateralForStable(params)
	case "stable_liquidate":
		return s.stableLiquidate(params)
	case "stable_position":
		return s.stablePosition(params)
	case "stable_healthFactor":
		return s.stableHealthFactor(params)
	case "stable_supply":
		return s.stableSupply()
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) stableDepositCollateral(raw json.RawMessage) (interface{}, *rpcError) {
	var params collateralParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableDepositCollateral(user, params.Symbol, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "deposited"}, nil
}

func (s *Server) stableRedeemCollateral(raw json.RawMessage) (interface{}, *rpcError) {
	var params collateralParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableRedeemCollateral(user, params.Symbol, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "redeemed"}, nil
}

func (s *Server) stableMint(raw json.RawMessage) (interface{}, *rpcError) {
	var params mintParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableMint(user, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "minted"}, nil
}

func (s *Server) stableBurn(raw json.RawMessage) (interface{}, *rpcError) {
	var params burnParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	onBehalfOf, rpcErr := parseAddress(params.OnBehalfOf)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payer := onBehalfOf
	if params.Payer != "" {
		payer, rpcErr = parseAddress(params.Payer)
		if rpcErr != nil {
			return nil, rpcErr
		}
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableBurn(amount, onBehalfOf, payer); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "burned"}, nil
}

func (s *Server) stableDepositAndMint(raw json.RawMessage) (interface{}, *rpcError) {
	var params depositAndMintParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	deposit, rpcErr := parseAmount(params.DepositAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAmount(params.MintAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableDepositAndMint(user, params.Symbol, deposit, mint); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "deposited-and-minted"}, nil
}

func (s *Server) stableRedeemCollateralForStable(raw json.RawMessage) (interface{}, *rpcError) {
	var params redeemForStableParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	collateral, rpcErr := parseAmount(params.CollateralAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	burn, rpcErr := parseAmount(params.BurnAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.StableRedeemCollateralForStable(user, params.Symbol, collateral, burn); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "redeemed-for-stable"}, nil
}

func (s *Server) stableLiquidate(raw json.RawMessage) (interface{}, *rpcError) {
	var params liquidateParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	liquidator, rpcErr := parseAddress(params.Liquidator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	debt, rpcErr := parseAmount(params.DebtToCover)
	if rpcErr != nil {
		return nil, rpcErr
	}
	repaid, seized, err := s.node.StableLiquidate(params.Symbol, liquidator, user, debt)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{
		"repaid": bigString(repaid),
		"seized": bigString(seized),
	}, nil
}

func (s *Server) stablePosition(raw json.RawMessage) (interface{}, *rpcError) {
	var params userParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	position, err := s.node.StablePosition(user)
	if err != nil {
		return nil, serverError(err)
	}
	collateral := make(map[string]string, len(position.Collateral))
	for symbol, amount := range position.Collateral {
		collateral[symbol] = bigString(amount)
	}
	return map[string]interface{}{
		"collateral":   collateral,
		"liability":    bigString(position.Liability),
		"healthFactor": bigString(position.HealthFactor),
	}, nil
}

func (s *Server) stableHealthFactor(raw json.RawMessage) (interface{}, *rpcError) {
	var params userParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddress(params.User)
	if rpcErr != nil {
		return nil, rpcErr
	}
	hf, err := s.node.StableHealthFactor(user)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"healthFactor": bigString(hf)}, nil
}

func (s *Server) stableSupply() (interface{}, *rpcError) {
	supply, err := s.node.StableSupply()
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"supply": bigString(supply)}, nil
}
