package metrics

var (
	ChangesApplied = NewCounterVec(Opts{
		Name: "liveqa_question_changes_applied_total",
		Help: "Question change-stream entries applied to session collections.",
	}, "kind")

	InitialLoads = NewCounterVec(Opts{
		Name: "liveqa_question_initial_loads_total",
		Help: "Initial question loads by query strategy and outcome.",
	}, "strategy", "outcome")

	LikeToggles = NewCounterVec(Opts{
		Name: "liveqa_like_toggles_total",
		Help: "Like transactions by result.",
	}, "result")

	RateLimited = NewCounterVec(Opts{
		Name: "liveqa_rate_limited_total",
		Help: "Actions denied by an advisory limiter.",
	}, "limiter")

	StoreRetries = NewCounterVec(Opts{
		Name: "liveqa_store_transaction_retries_total",
		Help: "Document store transaction attempts retried after a conflict.",
	}, "store")

	OpenSessions = NewGauge(Opts{
		Name: "liveqa_question_sessions_open",
		Help: "Question sessions currently attached to a change stream.",
	})
)

func init() {
	Default.MustRegister(ChangesApplied, InitialLoads, LikeToggles, RateLimited, StoreRetries, OpenSessions)
}
