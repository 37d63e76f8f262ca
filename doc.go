/*
Package threadline is a conversational request orchestrator.

Each user query runs as one turn through a fixed graph of stages:

	start -> rewrite -> grade -> tools -> answer -> done
	                         \------------^

The rewriter turns follow-ups into standalone questions using recent history,
the grader decides whether the retrieved context is enough, the tool router
invokes registered capabilities with a sequential fallback chain, and the
answerer grounds the reply in what was retrieved (or declines when nothing was).
Follow-up suggestions are produced separately, on demand.

Conversation state is kept per thread. A turn holds an exclusive lease on its
thread for its whole duration: a concurrent turn on the same thread is
rejected with domain.ErrBusy rather than queued. The checkpoint is written once,
after the answer stage; a failed or cancelled turn leaves the stored thread as
it was.

# Usage

	reg := registry.MustNew(
		registry.Entry{
			Contract:   registry.Contract{Name: domain.CapabilityWeather, Domain: domain.DomainWeather},
			Capability: weather.New(),
		},
	)
	gen, err := provider.Build(ctx, llm.Config{Provider: "openrouter", APIKey: key}, logger)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := threadline.New(gen, reg, threadline.WithStore(file.New("")))
	if err != nil {
		log.Fatal(err)
	}

	resp, err := eng.Chat(ctx, domain.ChatRequest{Query: "What's the weather in Pune?"})

Stream delivers the same turn as an ordered sequence of stage events ending in
a single done or failed event. The channel is unbuffered, so the turn advances
only as fast as the caller reads.
*/
package threadline
