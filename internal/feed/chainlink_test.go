package feed

import (
	"context"
	"testing"
)

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.FetchQuote(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := c.FetchQuote(context.Background()); err == nil {
		t.Fatal("缺少合约地址应报错")
	}
}
