// Command make_call places an outbound interview call. The callee answers
// into the relay's phone webhook and talks to the interviewer from there.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/voceo/voceo/pkg/config"
	"github.com/voceo/voceo/pkg/relay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "caller ID")
	to := flag.String("to", "", "destination number")
	voiceURL := flag.String("voice_url", "", "override the voice webhook URL")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}

	dialer := relay.NewOutboundDialer(cfg.Relay.Phone)
	callSID, err := dialer.Dial(context.Background(), *to, *from, *voiceURL)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
