package events

import (
	"math/big"
	"testing"

	"stakeledger/crypto"
)

func TestTokenSupplyEvent(t *testing.T) {
	var to [20]byte
	to[19] = 7
	evt := TokenSupply{
		Asset:  "stk",
		To:     to,
		Minted: big.NewInt(250),
		Supply: big.NewInt(5000),
	}.Event()
	if evt == nil {
		t.Fatalf("expected event")
	}
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["asset"] != "STK" {
		t.Fatalf("unexpected asset attr: %s", evt.Attributes["asset"])
	}
	if evt.Attributes["supply"] != "5000" || evt.Attributes["minted"] != "250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["to"] != crypto.AddressFromRaw(to).String() {
		t.Fatalf("unexpected recipient: %s", evt.Attributes["to"])
	}
}

func TestTokenSupplyEventNilAmounts(t *testing.T) {
	evt := TokenSupply{}.Event()
	if evt.Attributes["minted"] != "0" || evt.Attributes["supply"] != "0" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["asset"]; ok {
		t.Fatalf("blank asset should be omitted")
	}
}
