package controllers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing/billingtest"
)

func TestListAndGetPlans(t *testing.T) {
	e := billingtest.NewEnv()
	pro := e.Repo.AddPlan("Pro", "9.99")
	e.Repo.SetPlanFeatures(pro.ID, `["quantize","export"]`)
	legacy := e.Repo.AddPlan("Legacy", "1.00")
	e.Repo.SetPlanActive(legacy.ID, false)
	app := newTestApp(e, &billingtest.Verifier{})

	status, body := doRequest(t, app, "GET", "/api/v1/subscriptions", "", "")
	require.Equal(t, http.StatusOK, status)
	plans := body["subscriptions"].([]interface{})
	require.Len(t, plans, 1)
	assert.Equal(t, pro.ID, plans[0].(map[string]interface{})["id"])
	assert.Equal(t, []interface{}{"quantize", "export"}, plans[0].(map[string]interface{})["features"])

	status, body = doRequest(t, app, "GET", "/api/v1/subscriptions/"+pro.ID, "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Pro", body["name"])
	assert.Equal(t, "9.99", body["price_monthly"])

	status, body = doRequest(t, app, "GET", "/api/v1/subscriptions/"+legacy.ID, "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["features"])

	status, body = doRequest(t, app, "GET", "/api/v1/subscriptions/missing", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "plan_not_found", body["error"])
}

func TestSubscribeActivateCancel(t *testing.T) {
	e := billingtest.NewEnv()
	pro := e.Repo.AddPlan("Pro", "9.99")
	app := newTestApp(e, &billingtest.Verifier{})

	status, _ := doRequest(t, app, "GET", "/api/v1/subscriptions/user", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := doRequest(t, app, "GET", "/api/v1/subscriptions/user", "", testUserID)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no_active_subscription", body["error"])

	status, body = doRequest(t, app, "POST", "/api/v1/subscriptions/subscribe", `{"subscription_id":"`+pro.ID+`"}`, testUserID)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, false, body["is_active"])
	assert.Equal(t, "pending", body["payment_status"])

	status, _ = doRequest(t, app, "POST", "/api/v1/subscriptions/subscribe", `{"subscription_id":"missing"}`, testUserID)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, "POST", "/api/v1/subscriptions/subscribe", `not json`, testUserID)
	assert.Equal(t, http.StatusBadRequest, status)

	_, err := e.Service.Activate(context.Background(), testUserID, pro.ID)
	require.NoError(t, err)

	status, body = doRequest(t, app, "GET", "/api/v1/subscriptions/user", "", testUserID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, pro.ID, body["subscription_id"])
	assert.Equal(t, true, body["is_active"])

	status, body = doRequest(t, app, "POST", "/api/v1/subscriptions/cancel", "", testUserID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["is_active"])

	status, _ = doRequest(t, app, "POST", "/api/v1/subscriptions/cancel", "", testUserID)
	assert.Equal(t, http.StatusNotFound, status)
}
