package authorize

type Result struct {
	Allowed   bool
	Expired   bool
	Blocked   bool
	NoCredit  bool
	Reference string
	Info      string
}

func NewFromResponse(response *Response) *Result {
	result := &Result{
		Allowed:   response.Allowed == "ALLOWED",
		Expired:   response.Allowed == "EXPIRED",
		Blocked:   response.Allowed == "BLOCKED",
		NoCredit:  response.Allowed == "NO_CREDIT",
		Reference: response.AuthorizationReference,
	}
	if response.Info != nil {
		result.Info = response.Info.Text
	}
	return result
}
