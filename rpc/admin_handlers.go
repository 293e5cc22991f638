package rpc

import (
	"encoding/json"
	"math/big"
	"strings"

	"agorachain/crypto"
	"agorachain/native/cpi"
)

type setPausedParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type registerTokenParams struct {
	Caller            string `json:"caller"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Decimals          uint8  `json:"decimals"`
	CollateralAllowed bool   `json:"collateralAllowed"`
}

type grantRoleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Grantee string `json:"grantee"`
}

type airdropParams struct {
	Caller     string   `json:"caller"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

type setFormulaParams struct {
	Caller  string `json:"caller"`
	Formula string `json:"formula"`
}

type creditItemsParams struct {
	Caller   string `json:"caller"`
	Book     string `json:"book,omitempty"`
	Holder   string `json:"holder"`
	Quantity uint64 `json:"quantity"`
}

type mintSettlementParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type withdrawFeesParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) dispatchAdmin(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "admin_setPaused":
		return s.adminSetPaused(params)
	case "admin_registerToken":
		return s.adminRegisterToken(params)
	case "admin_grantRole":
		return s.adminGrantRole(params)
	case "admin_airdrop":
		return s.adminAirdrop(params)
	case "admin_setIndexFormula":
		return s.adminSetIndexFormula(params)
	case "admin_creditItems":
		return s.adminCreditItems(params)
	case "admin_mintSettlement":
		return s.adminMintSettlement(params)
	case "admin_withdrawFees":
		return s.adminWithdrawFees(params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) adminSetPaused(raw json.RawMessage) (interface{}, *rpcError) {
	var params setPausedParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminSetPaused(caller, params.Module, params.Paused); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"paused": params.Paused}, nil
}

func (s *Server) adminRegisterToken(raw json.RawMessage) (interface{}, *rpcError) {
	var params registerTokenParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminRegisterToken(caller, params.Symbol, params.Name, params.Decimals, params.CollateralAllowed); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "registered"}, nil
}

func (s *Server) adminGrantRole(raw json.RawMessage) (interface{}, *rpcError) {
	var params grantRoleParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	grantee, rpcErr := parseAddress(params.Grantee)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminGrantRole(caller, params.Role, grantee); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "granted"}, nil
}

func (s *Server) adminAirdrop(raw json.RawMessage) (interface{}, *rpcError) {
	var params airdropParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipients := make([]crypto.Address, 0, len(params.Recipients))
	for _, raw := range params.Recipients {
		addr, rpcErr := parseAddress(raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		recipients = append(recipients, addr)
	}
	amounts := make([]*big.Int, 0, len(params.Amounts))
	for _, raw := range params.Amounts {
		amount, rpcErr := parseAmount(raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		amounts = append(amounts, amount)
	}
	if err := s.node.AdminAirdrop(caller, recipients, amounts); err != nil {
		return nil, serverError(err)
	}
	return map[string]int{"recipients": len(recipients)}, nil
}

func (s *Server) adminSetIndexFormula(raw json.RawMessage) (interface{}, *rpcError) {
	var params setFormulaParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var formula cpi.Formula
	switch strings.ToLower(strings.TrimSpace(params.Formula)) {
	case "", "base100":
		formula = cpi.BaseHundredFormula{}
	default:
		return nil, invalidParams("unknown formula " + params.Formula)
	}
	if err := s.node.AdminSetIndexFormula(caller, formula); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "formula-updated"}, nil
}

func (s *Server) adminCreditItems(raw json.RawMessage) (interface{}, *rpcError) {
	var params creditItemsParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holder, rpcErr := parseAddress(params.Holder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminCreditItems(caller, bookOrDefault(params.Book), holder, params.Quantity); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "credited"}, nil
}

func (s *Server) adminMintSettlement(raw json.RawMessage) (interface{}, *rpcError) {
	var params mintSettlementParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress(params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminMintSettlement(caller, to, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "minted"}, nil
}

func (s *Server) adminWithdrawFees(raw json.RawMessage) (interface{}, *rpcError) {
	var params withdrawFeesParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress(params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AdminWithdrawFees(caller, to, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "withdrawn"}, nil
}
