package threadline_test

import (
	"context"
	"fmt"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/aretw0/threadline/pkg/registry"
)

func Example() {
	// A canned generator stands in for a model provider.
	gen := ports.GeneratorFunc(func(_ context.Context, p domain.Prompt) (string, error) {
		switch p.Purpose {
		case domain.PurposeRoute:
			return `[{"name":"get_weather","args":{"city":"Pune"}}]`, nil
		case domain.PurposeAnswer:
			return "It's 31°C with a clear sky in Pune.", nil
		}
		return "", nil
	})

	reg := registry.MustNew(registry.Entry{
		Contract: registry.Contract{Name: domain.CapabilityWeather, Domain: domain.DomainWeather},
		Capability: ports.CapabilityFunc(func(_ context.Context, req domain.Request) (string, error) {
			return fmt.Sprintf("%v: 31°C, clear sky", req.Args["city"]), nil
		}),
	})

	eng, err := threadline.New(gen, reg, threadline.WithThreadIDGenerator(func() string { return "demo" }))
	if err != nil {
		fmt.Println(err)
		return
	}

	resp, err := eng.Chat(context.Background(), domain.ChatRequest{Query: "What's the weather in Pune?"})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp.ThreadID, resp.SelectedCapabilities, resp.ToolType)
	fmt.Println(resp.Answer)
	// Output:
	// demo [get_weather] custom
	// It's 31°C with a clear sky in Pune.
}

func ExampleEngine_Stream() {
	gen := ports.GeneratorFunc(func(_ context.Context, p domain.Prompt) (string, error) {
		if p.Purpose == domain.PurposeRoute {
			return "[]", nil
		}
		return "Hello!", nil
	})

	eng, err := threadline.New(gen, registry.MustNew())
	if err != nil {
		fmt.Println(err)
		return
	}

	events, err := eng.Stream(context.Background(), domain.ChatRequest{Query: "hi", ThreadID: "demo"})
	if err != nil {
		fmt.Println(err)
		return
	}
	for ev := range events {
		fmt.Println(ev.Seq, ev.Type, ev.Stage)
	}
	// Output:
	// 1 stage rewrite
	// 2 stage grade
	// 3 stage tools
	// 4 stage answer
	// 5 done done
}
