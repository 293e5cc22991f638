package rpc

import (
	"encoding/json"
)

type balanceParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type accountParams struct {
	Address string `json:"address"`
}

type itemBalanceParams struct {
	Book    string `json:"book,omitempty"`
	Address string `json:"address"`
}

func (s *Server) dispatchQuery(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "token_balance":
		return s.tokenBalance(params)
	case "token_account":
		return s.tokenAccount(params)
	case "token_itemBalance":
		return s.tokenItemBalance(params)
	case "token_list":
		return s.tokenList()
	case "ledger_events":
		return s.ledgerEvents()
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) tokenBalance(raw json.RawMessage) (interface{}, *rpcError) {
	var params balanceParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.node.Balance(addr, params.Symbol)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"balance": bigString(balance)}, nil
}

func (s *Server) tokenAccount(raw json.RawMessage) (interface{}, *rpcError) {
	var params accountParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.node.Account(addr)
	if err != nil {
		return nil, serverError(err)
	}
	balances := make(map[string]string, len(account.Balances))
	for symbol, amount := range account.Balances {
		balances[symbol] = bigString(amount)
	}
	return map[string]interface{}{"balances": balances}, nil
}

func (s *Server) tokenItemBalance(raw json.RawMessage) (interface{}, *rpcError) {
	var params itemBalanceParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	held, err := s.node.ItemBalance(bookOrDefault(params.Book), addr)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"items": bigString(held)}, nil
}

func (s *Server) tokenList() (interface{}, *rpcError) {
	list, err := s.node.TokenList()
	if err != nil {
		return nil, serverError(err)
	}
	return list, nil
}

func (s *Server) ledgerEvents() (interface{}, *rpcError) {
	events := s.node.Events()
	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]interface{}{
			"type":       ev.Type,
			"attributes": ev.Attributes,
		})
	}
	return out, nil
}
