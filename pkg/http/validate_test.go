package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type listRequest struct {
	Kind  string `query:"kind" validate:"omitempty,oneof=a b"`
	Limit int    `query:"limit" default:"10" validate:"gte=1,lte=50"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	c, _ := newContext("/?kind=a")
	var req listRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if req.Limit != 10 || req.Kind != "a" {
		t.Fatalf("req = %+v", req)
	}
}

func TestReadAndValidateRequestReportsQueryNames(t *testing.T) {
	c, _ := newContext("/?kind=z&limit=500")
	var req listRequest
	errs, ok := ReadAndValidateRequest(c, &req).([]ValidationError)
	if !ok || len(errs) != 2 {
		t.Fatalf("errs = %#v", errs)
	}
	got := map[string]string{}
	for _, e := range errs {
		got[e.Field] = e.Code
	}
	if got["kind"] != "ERR_ONEOF" || got["limit"] != "ERR_LTE" {
		t.Fatalf("codes = %v", got)
	}
}

func TestAppErrorResponseUsesStatus(t *testing.T) {
	c, rec := newContext("/")
	if err := AppErrorResponse(c, NotFoundErrorf("market %s not found", "DOGE")); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != 404 || len(body.Data) != 1 || body.Data[0].Code != "ERR_NOT_FOUND" {
		t.Fatalf("body = %+v", body)
	}
}

func TestComposeRegistersAll(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	Compose(
		HandlerFunc(func(e *echo.Echo) { e.GET("/a", ok) }),
		nil,
		HandlerFunc(func(e *echo.Echo) { e.GET("/b", ok) }),
	).RegisterRoutes(e)

	for _, path := range []string{"/a", "/b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}
