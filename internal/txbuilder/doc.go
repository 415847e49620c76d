// Package txbuilder encodes token-manager and ERC-20 calls and turns them into
// EIP-1559 transactions.
//
// Usage example (not compiled):
//
//	auto, err := txbuilder.NewAutoBuilderFromConfig(client, cfg, logger)
//	if err != nil { ... }
//	auto.Start(ctx) // background fee refresh
//
//	call, err := txbuilder.BuyAMAPCall(manager, token, funds, minAmount)
//	tx, err := auto.BuildTx(ctx, from, call)
//	// sign + send tx
package txbuilder
