package rpc

import (
	"encoding/json"
	"math/big"

	"agorachain/native/market"
)

type createSellOrderParams struct {
	Book      string `json:"book,omitempty"`
	Seller    string `json:"seller"`
	Quantity  uint64 `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Category  string `json:"category"`
}

type cancelSellOrderParams struct {
	Book   string `json:"book,omitempty"`
	Seller string `json:"seller"`
}

type createBuyOrderParams struct {
	Book     string `json:"book,omitempty"`
	Seller   string `json:"seller"`
	Buyer    string `json:"buyer"`
	Quantity uint64 `json:"quantity"`
	Payment  string `json:"payment"`
}

type listOrdersParams struct {
	Book     string `json:"book,omitempty"`
	Category string `json:"category,omitempty"`
}

type bookParams struct {
	Book string `json:"book,omitempty"`
}

type totalValueParams struct {
	Book     string `json:"book,omitempty"`
	Category string `json:"category,omitempty"`
}

type valueInRangeParams struct {
	Book string `json:"book,omitempty"`
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type migrateCategoryParams struct {
	Legacy uint8 `json:"legacy"`
}

func (s *Server) dispatchMarket(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "market_createSellOrder":
		return s.marketCreateSellOrder(params)
	case "market_cancelSellOrder":
		return s.marketCancelSellOrder(params)
	case "market_createBuyOrder":
		return s.marketCreateBuyOrder(params)
	case "market_listOrders":
		return s.marketListOrders(params)
	case "market_totalValue":
		return s.marketTotalValue(params)
	case "market_valueInRange":
		return s.marketValueInRange(params)
	case "market_floorPrice":
		return s.marketFloorPrice(params)
	case "market_migrateCategory":
		return s.marketMigrateCategory(params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) marketCreateSellOrder(raw json.RawMessage) (interface{}, *rpcError) {
	var params createSellOrderParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := parseAddress(params.Seller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount(params.UnitPrice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	category, rpcErr := parseCategory(params.Category)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.MarketCreateSellOrder(bookOrDefault(params.Book), seller, params.Quantity, price, category); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "listed"}, nil
}

func (s *Server) marketCancelSellOrder(raw json.RawMessage) (interface{}, *rpcError) {
	var params cancelSellOrderParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := parseAddress(params.Seller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.MarketCancelSellOrder(bookOrDefault(params.Book), seller); err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"status": "cancelled"}, nil
}

func (s *Server) marketCreateBuyOrder(raw json.RawMessage) (interface{}, *rpcError) {
	var params createBuyOrderParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := parseAddress(params.Seller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyer, rpcErr := parseAddress(params.Buyer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payment, rpcErr := parseAmount(params.Payment)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.MarketCreateBuyOrder(bookOrDefault(params.Book), seller, buyer, params.Quantity, payment)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]interface{}{
		"receiptId": receipt.ID,
		"book":      receipt.BookKey,
		"seller":    receipt.Seller.String(),
		"buyer":     receipt.Buyer.String(),
		"quantity":  receipt.Quantity,
		"cost":      bigString(receipt.Cost),
		"fee":       bigString(receipt.Fee),
	}, nil
}

func (s *Server) marketListOrders(raw json.RawMessage) (interface{}, *rpcError) {
	var params listOrdersParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	book := bookOrDefault(params.Book)
	var (
		orders []market.SellOrder
		err    error
	)
	if params.Category != "" {
		category, rpcErr := parseCategory(params.Category)
		if rpcErr != nil {
			return nil, rpcErr
		}
		orders, err = s.node.MarketOrdersByCategory(book, category)
	} else {
		orders, err = s.node.MarketOrders(book)
	}
	if err != nil {
		return nil, serverError(err)
	}
	out := make([]orderJSON, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderJSON(order))
	}
	return out, nil
}

func (s *Server) marketTotalValue(raw json.RawMessage) (interface{}, *rpcError) {
	var params totalValueParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	book := bookOrDefault(params.Book)
	var (
		total *big.Int
		err   error
	)
	if params.Category != "" {
		category, rpcErr := parseCategory(params.Category)
		if rpcErr != nil {
			return nil, rpcErr
		}
		total, err = s.node.MarketTotalValueByCategory(book, category)
	} else {
		total, err = s.node.MarketTotalValue(book)
	}
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"totalValue": bigString(total)}, nil
}

func (s *Server) marketValueInRange(raw json.RawMessage) (interface{}, *rpcError) {
	var params valueInRangeParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.To <= params.From {
		return nil, invalidParams("range end must be after range start")
	}
	total, err := s.node.MarketValueInRange(bookOrDefault(params.Book), params.From, params.To)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"totalValue": bigString(total)}, nil
}

func (s *Server) marketFloorPrice(raw json.RawMessage) (interface{}, *rpcError) {
	var params bookParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	floor, err := s.node.MarketFloorPrice(bookOrDefault(params.Book))
	if err != nil {
		return nil, serverError(err)
	}
	// An empty book has no floor.
	if floor == nil {
		return map[string]interface{}{"floorPrice": nil}, nil
	}
	return map[string]interface{}{"floorPrice": floor.String()}, nil
}

func (s *Server) marketMigrateCategory(raw json.RawMessage) (interface{}, *rpcError) {
	var params migrateCategoryParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	category, err := market.MigrateCategory(market.LegacyCategory(params.Legacy))
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return map[string]interface{}{
		"category":     uint8(category),
		"categoryName": category.String(),
	}, nil
}
