package recruit

import (
	"context"
	"errors"

	"partybot/internal/recruit"
	"partybot/internal/transport/telegram/router"
)

const (
	toastGone     = "이미 종료된 모집입니다."
	toastFull     = "정원이 가득 찼습니다."
	toastBadInput = "잘못된 요청입니다."
)

func (p *Plugin) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Plugin: pluginName, Action: actJoin, Description: "역할 선택", Access: router.CallbackAccessEveryone, Handle: p.cbJoin},
		{Plugin: pluginName, Action: actLeave, Description: "참여 취소", Access: router.CallbackAccessEveryone, Handle: p.cbLeave},
		{Plugin: pluginName, Action: actClose, Description: "모집 마감", Access: router.CallbackAccessEveryone, Handle: p.cbClose},
	}
}

func (p *Plugin) cbJoin(ctx context.Context, req *router.Request, payload string) error {
	id, role, ok := parseJoinPayload(payload)
	if !ok {
		req.Toast(toastBadInput)
		return nil
	}
	res, err := p.coord.OnJoin(ctx, id, recruit.Member{ID: req.FromID, Name: req.FromName}, role)
	switch {
	case errors.Is(err, recruit.ErrSessionNotFound):
		req.Toast(toastGone)
		return nil
	case err != nil:
		req.Toast(toastBadInput)
		return err
	}

	switch res.Outcome {
	case recruit.Joined:
		text := role.Icon() + " " + role.Label() + " 참여 완료!"
		if res.Previous.Valid() && res.Previous != role {
			text = role.Icon() + " " + role.Label() + "(으)로 변경했습니다."
		}
		if res.Close.Transitioned {
			text += " 정원이 가득 차 모집이 마감되었습니다."
		}
		req.Toast(text)
	case recruit.JoinFull:
		req.Toast(toastFull)
	case recruit.JoinAlreadyClosed:
		req.Toast(toastGone)
	}
	return nil
}

func (p *Plugin) cbLeave(ctx context.Context, req *router.Request, payload string) error {
	res, err := p.coord.OnLeave(ctx, payload, req.FromID)
	if errors.Is(err, recruit.ErrSessionNotFound) {
		req.Toast(toastGone)
		return nil
	}
	if err != nil {
		return err
	}
	switch res.Outcome {
	case recruit.Left:
		req.Toast("참여를 취소했습니다.")
	case recruit.LeaveNotJoined:
		req.Toast("참여하지 않은 모집입니다.")
	case recruit.LeaveAlreadyClosed:
		req.Toast(toastGone)
	}
	return nil
}

func (p *Plugin) cbClose(ctx context.Context, req *router.Request, payload string) error {
	res, err := p.coord.OnForceClose(ctx, payload, req.FromID)
	switch {
	case errors.Is(err, recruit.ErrSessionNotFound):
		req.Toast(toastGone)
		return nil
	case errors.Is(err, recruit.ErrNotAuthorized):
		req.Toast("모집자만 마감할 수 있습니다.")
		return nil
	case err != nil:
		return err
	}
	if !res.Transitioned {
		req.Toast(toastGone)
		return nil
	}
	req.Toast("모집을 마감했습니다.")
	return nil
}
