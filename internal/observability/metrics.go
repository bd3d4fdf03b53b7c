package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockReservations       MetricKey = "stock_reservations_total"
	MCartCorrections         MetricKey = "cart_corrections_total"
	MCheckoutAttempts        MetricKey = "checkout_attempts_total"
)

// MetricSpec describes how a metric key is registered with a backend.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

var CounterSpecs = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequests, Help: "Calls to external peers such as the event bus or redis.", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MStockReservations, Help: "Stock ledger reservations by kind and result.", Labels: []string{"kind", "result"}},
	{Key: MCartCorrections, Help: "Cart rows repaired by validation.", Labels: []string{"action"}},
	{Key: MCheckoutAttempts, Help: "Checkout transaction attempts by result.", Labels: []string{"result"}},
}

var HistogramSpecs = []MetricSpec{
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}},
	{Key: MHTTPRequestDuration, Help: "Duration of HTTP requests in seconds.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequestDuration, Help: "Duration of external calls in seconds.", Labels: []string{"peer", "endpoint"}},
}
