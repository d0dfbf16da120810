//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/action/function"
)

type currentTimeRequest struct {
	Timezone string `json:"timezone,omitempty" description:"IANA timezone name such as 'America/New_York'. Defaults to UTC."`
}

func currentTime(_ context.Context, req currentTimeRequest) (string, error) {
	loc := time.UTC
	if req.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(req.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", req.Timezone, err)
		}
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}

func currentTimeAction() *action.Action {
	return function.New("current_time", currentTime,
		function.WithDescription("Returns the current time as an RFC3339 string. "+
			"Optional 'timezone' selects an IANA timezone; the default is UTC."),
	)
}
