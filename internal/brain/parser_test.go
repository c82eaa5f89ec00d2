package brain

import (
	"reflect"
	"testing"
)

func TestParseCall(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantArgs map[string]interface{}
	}{
		{
			name:     "no args",
			input:    "get_system_status()",
			wantName: "get_system_status",
			wantArgs: map[string]interface{}{},
		},
		{
			name:     "double quoted string",
			input:    `technical_analysis(symbol="BTCUSDT")`,
			wantName: "technical_analysis",
			wantArgs: map[string]interface{}{"symbol": "BTCUSDT"},
		},
		{
			name:     "single quoted string",
			input:    `technical_analysis(symbol='ETHUSDT')`,
			wantName: "technical_analysis",
			wantArgs: map[string]interface{}{"symbol": "ETHUSDT"},
		},
		{
			name:     "bare token",
			input:    "set_heartbeat_interval(interval_seconds=300)",
			wantName: "set_heartbeat_interval",
			wantArgs: map[string]interface{}{"interval_seconds": "300"},
		},
		{
			name:     "bracketed list",
			input:    `set_monitoring_symbols(primary_symbols=[BTCUSDT, ETHUSDT], secondary_symbols=["SOLUSDT"])`,
			wantName: "set_monitoring_symbols",
			wantArgs: map[string]interface{}{
				"primary_symbols":   []string{"BTCUSDT", "ETHUSDT"},
				"secondary_symbols": []string{"SOLUSDT"},
			},
		},
		{
			name:     "empty list",
			input:    "set_monitoring_symbols(primary_symbols=[])",
			wantName: "set_monitoring_symbols",
			wantArgs: map[string]interface{}{"primary_symbols": []string{}},
		},
		{
			name:     "comma inside quoted string",
			input:    `comprehensive_analysis(question="对比BTC, ETH的走势", symbols=[BTCUSDT, ETHUSDT])`,
			wantName: "comprehensive_analysis",
			wantArgs: map[string]interface{}{
				"question": "对比BTC, ETH的走势",
				"symbols":  []string{"BTCUSDT", "ETHUSDT"},
			},
		},
		{
			name:     "escaped quotes unescaped",
			input:    `send_telegram_notification(message="他说\"买入\"")`,
			wantName: "send_telegram_notification",
			wantArgs: map[string]interface{}{"message": `他说"买入"`},
		},
		{
			name:     "parens inside quoted value",
			input:    `send_telegram_notification(message="完成(部分)")`,
			wantName: "send_telegram_notification",
			wantArgs: map[string]interface{}{"message": "完成(部分)"},
		},
		{
			name:     "whitespace tolerated",
			input:    `  start_symbol_monitor( symbol = "BTCUSDT" , interval_minutes = 15 )  `,
			wantName: "start_symbol_monitor",
			wantArgs: map[string]interface{}{"symbol": "BTCUSDT", "interval_minutes": "15"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := ParseCall(tt.input)
			if err != nil {
				t.Fatalf("ParseCall(%q): %v", tt.input, err)
			}
			if call.Name != tt.wantName {
				t.Errorf("name = %q, want %q", call.Name, tt.wantName)
			}
			if !reflect.DeepEqual(call.Args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", call.Args, tt.wantArgs)
			}
		})
	}
}

func TestParseCallErrors(t *testing.T) {
	inputs := []string{
		"technical_analysis",            // no parens
		"technical_analysis(symbol=BTC", // unclosed
		`(symbol="BTC")`,                // no name
		`technical_analysis(BTCUSDT)`,   // positional arg
		`technical_analysis(=BTC)`,      // empty key
	}
	for _, input := range inputs {
		if _, err := ParseCall(input); err == nil {
			t.Errorf("ParseCall(%q) succeeded, want error", input)
		}
	}
}

func TestCallArgAccessors(t *testing.T) {
	call, err := ParseCall(`manual_trigger_analysis(symbol="BTCUSDT", symbols=[ETHUSDT, SOLUSDT])`)
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}

	if got := call.StringArg("symbol"); got != "BTCUSDT" {
		t.Errorf("StringArg(symbol) = %q, want BTCUSDT", got)
	}
	if got := call.StringArg("missing"); got != "" {
		t.Errorf("StringArg(missing) = %q, want empty", got)
	}
	if got := call.ListArg("symbols"); !reflect.DeepEqual(got, []string{"ETHUSDT", "SOLUSDT"}) {
		t.Errorf("ListArg(symbols) = %v", got)
	}
	// Scalar promoted to a one-element list.
	if got := call.ListArg("symbol"); !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Errorf("ListArg(symbol) = %v", got)
	}
	if got := call.ListArg("missing"); got != nil {
		t.Errorf("ListArg(missing) = %v, want nil", got)
	}
}
