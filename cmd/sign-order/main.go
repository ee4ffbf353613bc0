package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/common-cold/onchain-orderbook/params"
	"github.com/common-cold/onchain-orderbook/pkg/api"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
)

var (
	keyHex  string
	program string
	apiURL  string
	ttl     time.Duration
)

func loadSigner() (*crypto.Signer, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("no signing key: pass --key or set SIGNER_KEY")
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func parseAddr(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %v", name, err)
	}
	return v, nil
}

func eip712Signer() (*crypto.EIP712Signer, error) {
	prog := params.DefaultProgram
	if program != "" {
		var err error
		if prog, err = parseAddr("program", program); err != nil {
			return nil, err
		}
	}
	return crypto.NewEIP712Signer(crypto.DefaultDomain(prog)), nil
}

// sign fills in the replay fields of msg's SignedRequest.
func sign(signer *crypto.Signer, msg crypto.Message) (api.SignedRequest, error) {
	e, err := eip712Signer()
	if err != nil {
		return api.SignedRequest{}, err
	}
	sig, err := e.Sign(signer, msg)
	if err != nil {
		return api.SignedRequest{}, err
	}
	nonce, deadline := msg.Replay()
	return api.SignedRequest{Nonce: nonce, Deadline: deadline, Signature: "0x" + hex.EncodeToString(sig)}, nil
}

func replayFields() (nonce, deadline uint64) {
	now := time.Now()
	return uint64(now.UnixNano()), uint64(now.Add(ttl).Unix())
}

// emit prints body, and posts it when --api is set.
func emit(path string, body any) error {
	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	if apiURL == "" {
		fmt.Println(string(raw))
		return nil
	}

	resp, err := http.Post(apiURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s", resp.Status, out)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}

func keygen(c *cli.Context) error {
	signer, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return nil
}

func placeOrder(c *cli.Context) error {
	args := c.Args()
	if len(args) < 4 {
		return fmt.Errorf("order needs at least 4 arguments (received: %d), please check usage using ./sign-order -h", len(args))
	}
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	market, err := parseAddr("market", args[0])
	if err != nil {
		return err
	}
	side, err := orderbook.ParseSide(args[1])
	if err != nil {
		return err
	}
	price, err := parseUint("price", args[2])
	if err != nil {
		return err
	}
	qty, err := parseUint("quantity", args[3])
	if err != nil {
		return err
	}
	var pcQty uint64
	if side == orderbook.Bid {
		pcQty = price * qty
		if len(args) > 4 {
			if pcQty, err = parseUint("pc quantity", args[4]); err != nil {
				return err
			}
		}
	}
	payer, err := parseAddr("payer", c.String("payer"))
	if err != nil {
		return err
	}

	nonce, deadline := replayFields()
	signed, err := sign(signer, &crypto.CreateOrderEIP712{
		Market:     market,
		Side:       uint8(side),
		LimitPrice: price,
		CoinQty:    qty,
		PcQty:      pcQty,
		Payer:      payer,
		Trader:     signer.Address(),
		Nonce:      nonce,
		Deadline:   deadline,
	})
	if err != nil {
		return err
	}
	return emit("/api/v1/markets/"+market.Hex()+"/orders", api.CreateOrderRequest{
		Owner:         signer.Address().Hex(),
		Payer:         payer.Hex(),
		Side:          side.String(),
		LimitPrice:    price,
		CoinQty:       qty,
		PcQty:         pcQty,
		SignedRequest: signed,
	})
}

func cancelOrder(c *cli.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return fmt.Errorf("cancel needs 3 arguments (received: %d), please check usage using ./sign-order -h", len(args))
	}
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	market, err := parseAddr("market", args[0])
	if err != nil {
		return err
	}
	side, err := orderbook.ParseSide(args[1])
	if err != nil {
		return err
	}
	id, err := parseUint("order id", args[2])
	if err != nil {
		return err
	}

	nonce, deadline := replayFields()
	signed, err := sign(signer, &crypto.CancelOrderEIP712{
		Market:   market,
		Side:     uint8(side),
		OrderID:  id,
		Trader:   signer.Address(),
		Nonce:    nonce,
		Deadline: deadline,
	})
	if err != nil {
		return err
	}
	return emit("/api/v1/markets/"+market.Hex()+"/orders/cancel", api.CancelOrderRequest{
		Owner:         signer.Address().Hex(),
		Side:          side.String(),
		OrderID:       id,
		SignedRequest: signed,
	})
}

func settleFunds(c *cli.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return fmt.Errorf("settle needs 3 arguments (received: %d), please check usage using ./sign-order -h", len(args))
	}
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	market, err := parseAddr("market", args[0])
	if err != nil {
		return err
	}
	coinAcc, err := parseAddr("coin account", args[1])
	if err != nil {
		return err
	}
	pcAcc, err := parseAddr("pc account", args[2])
	if err != nil {
		return err
	}

	nonce, deadline := replayFields()
	signed, err := sign(signer, &crypto.SettleFundsEIP712{
		Market:      market,
		CoinAccount: coinAcc,
		PcAccount:   pcAcc,
		Trader:      signer.Address(),
		Nonce:       nonce,
		Deadline:    deadline,
	})
	if err != nil {
		return err
	}
	return emit("/api/v1/markets/"+market.Hex()+"/settle", api.SettleRequest{
		Owner:         signer.Address().Hex(),
		CoinAccount:   coinAcc.Hex(),
		PcAccount:     pcAcc.Hex(),
		SignedRequest: signed,
	})
}

func main() {
	app := cli.NewApp()
	app.Name = "sign-order"
	app.Usage = "sign exchange requests with EIP-712"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "key, k",
			Usage:       "hex private key of the order owner",
			EnvVar:      "SIGNER_KEY",
			Destination: &keyHex,
		},
		cli.StringFlag{
			Name:        "program",
			Usage:       "program address the node runs under (defaults to the built-in program id)",
			EnvVar:      "PROGRAM_ID",
			Destination: &program,
		},
		cli.StringFlag{
			Name:        "api",
			Usage:       "node URL, e.g. http://localhost:8080; when empty the signed body is printed",
			Destination: &apiURL,
		},
		cli.DurationFlag{
			Name:        "ttl",
			Value:       2 * time.Minute,
			Usage:       "signature validity",
			Destination: &ttl,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "Generate a new key pair: ./sign-order keygen",
			Action: keygen,
		},
		{
			Name:  "order",
			Usage: "Place a limit order: ./sign-order -k KEY order --payer TOKEN_ACCOUNT MARKET SIDE (bid or ask) PRICE COIN_QTY [PC_QTY, bids only]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "payer", Usage: "token account funding the order"},
			},
			Action: placeOrder,
		},
		{
			Name:   "cancel",
			Usage:  "Cancel a resting order: ./sign-order -k KEY cancel MARKET SIDE ORDER_ID",
			Action: cancelOrder,
		},
		{
			Name:   "settle",
			Usage:  "Withdraw free balances: ./sign-order -k KEY settle MARKET COIN_ACCOUNT PC_ACCOUNT",
			Action: settleFunds,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("command failed with error: %v\n", err)
		os.Exit(1)
	}
}
