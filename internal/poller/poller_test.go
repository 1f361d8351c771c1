package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm/vrmtest"
)

const testSite = "123456"

func setup(t *testing.T) (*Poller, *vrmtest.Server, credential.Credential) {
	t.Helper()
	srv := vrmtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddSite(testSite,
		map[string]any{"Device": "Battery Monitor", "instance": 279, "description": "State of charge", "rawValue": 87.5},
		map[string]any{"Device": "Battery Monitor", "instance": 279, "description": "Voltage", "rawValue": 52},
		map[string]any{"Device": "Gateway", "instance": 0, "description": "Firmware", "rawValue": "v3.14"},
		map[string]any{"Device": "Solar Charger", "instance": 0, "description": "Yield today", "rawValue": nil},
	)

	secret := srv.AddAccessToken("vrm-cloud-mqtt")
	cred := credential.Credential{Token: secret, AccountID: "22", Kind: credential.KindAccess, ObtainedAt: time.Now()}
	return New(vrm.NewClient(vrm.Config{BaseURL: srv.URL})), srv, cred
}

func TestPoll(t *testing.T) {
	p, _, cred := setup(t)
	observed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return observed }

	snap, err := p.Poll(context.Background(), testSite, cred)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if snap.SiteID != testSite || !snap.ObservedAt.Equal(observed) {
		t.Errorf("snapshot = %s at %v", snap.SiteID, snap.ObservedAt)
	}

	want := map[string]any{
		"battery_monitor_279.state_of_charge": 87.5,
		"battery_monitor_279.voltage":         int64(52),
		"gateway_0.firmware":                  "v3.14",
		"solar_charger_0.yield_today":         nil,
	}
	if snap.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d (keys %v)", snap.Len(), len(want), snap.Keys())
	}
	for key, wantValue := range want {
		got, ok := snap.Value(key)
		if !ok || got != wantValue {
			t.Errorf("Value(%q) = %#v, %v; want %#v", key, got, ok, wantValue)
		}
	}
	if KindOf(err) != KindSuccess {
		t.Errorf("KindOf(nil) = %v", KindOf(err))
	}
}

func TestPoll_Classification(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(srv *vrmtest.Server, cred *credential.Credential, site *string)
		want     Kind
		wantErr  error
		wantInst int
	}{
		{
			name:    "expired token",
			prepare: func(srv *vrmtest.Server, cred *credential.Credential, _ *string) { srv.Invalidate(cred.Authorization()) },
			want:    KindAuthRejected,
		},
		{
			name:     "unknown site",
			prepare:  func(_ *vrmtest.Server, _ *credential.Credential, site *string) { *site = "999" },
			want:     KindFatal,
			wantErr:  ErrSiteNotFound,
			wantInst: 1,
		},
		{
			name: "forbidden site that is listed",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusForbidden)
			},
			want:     KindFatal,
			wantErr:  ErrSiteDenied,
			wantInst: 1,
		},
		{
			name: "forbidden and installations rejected",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusForbidden)
				srv.Fail(vrmtest.RouteInstallations, http.StatusUnauthorized)
			},
			want:     KindAuthRejected,
			wantInst: 1,
		},
		{
			name: "forbidden and installations unavailable",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusForbidden)
				srv.Fail(vrmtest.RouteInstallations, http.StatusServiceUnavailable)
			},
			want:     KindTransient,
			wantInst: 1,
		},
		{
			name: "not found",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusNotFound)
			},
			want:    KindFatal,
			wantErr: vrm.ErrNotFound,
		},
		{
			name: "server error",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusInternalServerError)
			},
			want:    KindTransient,
			wantErr: vrm.ErrUnavailable,
		},
		{
			name: "rate limited",
			prepare: func(srv *vrmtest.Server, _ *credential.Credential, _ *string) {
				srv.Fail(vrmtest.RouteDiagnostics, http.StatusTooManyRequests)
			},
			want: KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv, cred := setup(t)
			site := testSite
			tt.prepare(srv, &cred, &site)

			_, err := p.Poll(context.Background(), site, cred)
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("Poll() error = %v, want *Error", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("Kind = %v, want %v (err = %v)", pe.Kind, tt.want, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Poll() error = %v, want %v", err, tt.wantErr)
			}
			if got := srv.CallCount(vrmtest.RouteInstallations); got != tt.wantInst {
				t.Errorf("installations calls = %d, want %d", got, tt.wantInst)
			}
		})
	}
}

func TestPoll_ServerUnreachable(t *testing.T) {
	p, srv, cred := setup(t)
	srv.Close()

	_, err := p.Poll(context.Background(), testSite, cred)
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf(%v) = %v, want transient", err, KindOf(err))
	}
}

func TestFlatten(t *testing.T) {
	records := []vrm.Diagnostic{
		{Device: "VE.Bus System", Instance: "276", Description: "Input voltage phase 1", RawValue: json.Number("230.1")},
		{Device: "VE.Bus System", Instance: "276", Description: "State", RawValue: "Bulk"},
		{Device: "Gateway", Instance: "0", Description: "Relay 1 state", RawValue: json.Number("1")},
		{Device: "Gateway", Instance: "0", Description: "Connected", RawValue: true},
		{Device: "", Instance: "1", Description: "Orphan", RawValue: json.Number("1e3")},
		{Device: "Gateway", Instance: "0", Description: "", RawValue: json.Number("1")},
		{Device: "Gateway", Instance: "0", Description: "Map", RawValue: map[string]any{"a": 1}},
	}

	got, skipped := flatten(records)
	want := map[string]any{
		"ve_bus_system_276.input_voltage_phase_1": 230.1,
		"ve_bus_system_276.state":                 "Bulk",
		"gateway_0.relay_1_state":                 int64(1),
		"gateway_0.connected":                     true,
		"unknown_1.orphan":                        1000.0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flatten() =\n%#v\nwant\n%#v", got, want)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindSuccess},
		{&Error{Kind: KindFatal, Err: errors.New("x")}, KindFatal},
		{errors.New("plain"), KindTransient},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if KindAuthRejected.String() != "auth_rejected" || Kind(9).String() != "kind(9)" {
		t.Error("Kind.String() mismatch")
	}
}
