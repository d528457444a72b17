package mcp

import (
	"context"
	"fmt"
	"strings"

	"taskmarket-backend/core/marketplace"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerPostTaskTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Post a task and move its reward from the caller's balance into escrow"),
		mcp.WithString("description", mcp.Required(), mcp.Description("What needs to be done")),
		mcp.WithNumber("reward", mcp.Required(), mcp.Description("Reward in base units, held in escrow")),
		mcp.WithNumber("deadline", mcp.Description("Block height after which bids close; 0 for none")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("post_task", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		poster, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		description, err := request.RequireString("description")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reward, err := requireUint(request, "reward")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deadline, err := optionalUint(request, "deadline")
		if err != nil {
			return toolError(err), nil
		}
		id, err := s.market.PostTask(ctx, poster, description, reward, deadline)
		if err != nil {
			return toolError(err), nil
		}
		task, err := s.market.GetTask(ctx, id)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Posted task %d", id), task)
	})
}

func (s *MCPServer) registerBidOnTaskTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Bid on an open task; a second bid from the same account replaces the first"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task to bid on")),
		mcp.WithNumber("amount", mcp.Required(), mcp.Description("Asking price")),
		mcp.WithString("proposal", mcp.Description("How the work will be done")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("bid_on_task", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bidder, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		amount, err := requireUint(request, "amount")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		bid, err := s.market.BidOnTask(ctx, bidder, taskID, amount, request.GetString("proposal", ""))
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Bid recorded on task %d", taskID), bid)
	})
}

func (s *MCPServer) registerAssignTaskTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Assign an open task to one of its bidders; poster only"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task to assign")),
		mcp.WithString("bidder", mcp.Required(), mcp.Description("Account of the winning bidder")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("assign_task", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		poster, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		bidder, err := request.RequireString("bidder")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.market.AssignTask(ctx, poster, taskID, bidder)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d assigned to %s", taskID, task.Assignee), task)
	})
}

func (s *MCPServer) registerSubmitWorkTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Submit proof of completed work; assignee only"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Assigned task")),
		mcp.WithString("proof", mcp.Required(), mcp.Description("Deliverable or a reference to it")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("submit_work", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assignee, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		proof, err := request.RequireString("proof")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.market.SubmitWork(ctx, assignee, taskID, []byte(proof))
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Work submitted for task %d", taskID), task)
	})
}

func (s *MCPServer) registerApproveWorkTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Approve submitted work and release the escrowed reward to the assignee; poster only"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Submitted task")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("approve_work", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		poster, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.market.ApproveWork(ctx, poster, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d completed, %d paid to %s", taskID, task.Reward, task.Assignee), task)
	})
}

func (s *MCPServer) registerCancelTaskTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Cancel an open task and refund its escrow; poster only"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Open task")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("cancel_task", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		poster, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.market.CancelTask(ctx, poster, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d cancelled", taskID), task)
	})
}

func (s *MCPServer) registerDisputeTaskTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Raise a dispute on an assigned or submitted task; poster or assignee"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task in dispute")),
		mcp.WithString("reason", mcp.Description("Why the task is disputed")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("dispute_task", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec, err := s.market.DisputeTask(ctx, caller, taskID, request.GetString("reason", ""))
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d disputed", taskID), rec)
	})
}

func (s *MCPServer) registerResolveDisputeTool() {
	tool := mcp.NewTool("resolve_dispute",
		mcp.WithDescription("Settle a disputed task in favour of the poster (refund) or the assignee (payout)"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Disputed task")),
		mcp.WithString("winner", mcp.Required(), mcp.Description("Poster or assignee account")),
		mcp.WithString("capability", mcp.Required(), mcp.Description("Token granting resolve_dispute")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		winner, err := request.RequireString("winner")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		capability, err := request.RequireString("capability")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec, err := s.market.ResolveDispute(ctx, capability, taskID, winner)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Dispute on task %d resolved for %s", taskID, rec.Winner), rec)
	})
}

func (s *MCPServer) registerSubmitReviewTool() {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Rate a counterparty 1-5 for a task; one review per reviewer, reviewee and task"),
		mcp.WithString("reviewee", mcp.Required(), mcp.Description("Account being reviewed")),
		mcp.WithNumber("rating", mcp.Required(), mcp.Description("Stars, 1 to 5")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task the review refers to")),
		mcp.WithString("comment", mcp.Description("Optional comment")),
	}, identityOptions()...)

	s.addTool(mcp.NewTool("submit_review", opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reviewer, err := s.caller(request)
		if err != nil {
			return toolError(err), nil
		}
		reviewee, err := request.RequireString("reviewee")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rating, err := requireUint(request, "rating")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if rating > 255 {
			rating = 0
		}
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		review, err := s.market.SubmitReview(ctx, reviewer, reviewee, uint8(rating), request.GetString("comment", ""), taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("%s rated %s %d/5", review.Reviewer, review.Reviewee, review.Rating), review)
	})
}

func (s *MCPServer) registerSlashReputationTool() {
	tool := mcp.NewTool("slash_reputation",
		mcp.WithDescription("Lower an account's reputation score; requires a slash capability"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account to slash")),
		mcp.WithNumber("amount", mcp.Required(), mcp.Description("Points to remove")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Reason recorded in history")),
		mcp.WithString("capability", mcp.Required(), mcp.Description("Token granting slash_reputation")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		amount, err := requireUint(request, "amount")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reason, err := request.RequireString("reason")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		capability, err := request.RequireString("capability")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		score, err := s.market.SlashReputation(ctx, capability, acct, amount, reason)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("%s slashed, score now %d", acct, score), map[string]interface{}{
			"account": acct,
			"score":   score,
		})
	})
}

func (s *MCPServer) registerGetReputationTool() {
	tool := mcp.NewTool("get_reputation",
		mcp.WithDescription("Reputation score and activity counters of an account"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account to look up")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec, err := s.market.Reputation(ctx, acct)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("%s has score %d", rec.Account, rec.Score), rec)
	})
}

func (s *MCPServer) registerGetReputationHistoryTool() {
	tool := mcp.NewTool("get_reputation_history",
		mcp.WithDescription("Recent score changes of an account, oldest first"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account to look up")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entries, err := s.market.History(ctx, acct)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Found %d history entries", len(entries)), entries)
	})
}

func (s *MCPServer) registerListReviewsTool() {
	tool := mcp.NewTool("list_reviews",
		mcp.WithDescription("Reviews received by an account"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Reviewee account")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reviews, err := s.market.Reviews(ctx, acct)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Found %d reviews", len(reviews)), reviews)
	})
}

func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a specific task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of task to retrieve")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.market.GetTask(ctx, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d is %s", task.ID, task.Status), task)
	})
}

func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filtering"),
		mcp.WithString("status", mcp.Description("Filter by task status")),
		mcp.WithString("poster", mcp.Description("Filter by poster")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := marketplace.TaskFilter{
			Status:   marketplace.TaskStatus(request.GetString("status", "")),
			Poster:   request.GetString("poster", ""),
			Assignee: request.GetString("assignee", ""),
			Limit:    request.GetInt("limit", 0),
			Offset:   request.GetInt("offset", 0),
		}
		tasks, err := s.market.ListTasks(ctx, filter)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Found %d tasks", len(tasks)), tasks)
	})
}

func (s *MCPServer) registerListOpenTasksTool() {
	tool := mcp.NewTool("list_open_tasks",
		mcp.WithDescription("List tasks still accepting bids"),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := s.market.ListOpenTasks(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Found %d open tasks", len(tasks)), tasks)
	})
}

func (s *MCPServer) registerListBidsTool() {
	tool := mcp.NewTool("list_bids",
		mcp.WithDescription("Bids placed on a task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task ID")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		bids, err := s.market.Bids(ctx, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Found %d bids", len(bids)), bids)
	})
}

func (s *MCPServer) registerGetEscrowTool() {
	tool := mcp.NewTool("get_escrow",
		mcp.WithDescription("Funds currently held in escrow for a task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task ID")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		hold, err := s.market.Escrow(ctx, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Task %d holds %d", taskID, hold.Amount), hold)
	})
}

func (s *MCPServer) registerGetDisputeTool() {
	tool := mcp.NewTool("get_dispute",
		mcp.WithDescription("Dispute record of a task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task ID")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUint(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec, err := s.market.Dispute(ctx, taskID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("Dispute on task %d", taskID), rec)
	})
}

func (s *MCPServer) registerDepositTool() {
	tool := mcp.NewTool("deposit",
		mcp.WithDescription("Credit an account's balance; requires a deposit capability"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account to credit")),
		mcp.WithNumber("amount", mcp.Required(), mcp.Description("Units to credit")),
		mcp.WithString("capability", mcp.Required(), mcp.Description("Token granting deposit")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		amount, err := requireUint(request, "amount")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		capability, err := request.RequireString("capability")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		bal, err := s.market.Deposit(ctx, capability, acct, amount)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("%s balance is %d free, %d reserved", bal.Account, bal.Free, bal.Reserved), bal)
	})
}

func (s *MCPServer) registerGetBalanceTool() {
	tool := mcp.NewTool("get_balance",
		mcp.WithDescription("Free and reserved balance of an account"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account to look up")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := request.RequireString("account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		bal, err := s.market.Balance(ctx, acct)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(fmt.Sprintf("%s balance is %d free, %d reserved", bal.Account, bal.Free, bal.Reserved), bal)
	})
}

func (s *MCPServer) registerAuditEscrowTool() {
	tool := mcp.NewTool("audit_escrow",
		mcp.WithDescription("Check that escrow holds match task rewards and reserved balances"),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := s.market.Audit(ctx)
		if err != nil && len(report.Problems) == 0 {
			return toolError(err), nil
		}
		if len(report.Problems) > 0 {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v: %s", marketplace.KindOf(err), err, strings.Join(report.Problems, "; "))), nil
		}
		return jsonResult(fmt.Sprintf("Escrow consistent across %d active tasks", report.ActiveTasks), report)
	})
}
