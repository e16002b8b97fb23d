package lotto

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"dhlotto/internal/model"
	"dhlotto/internal/session"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession подменяет сессию заготовленными JSON-ответами
type fakeSession struct {
	answers     map[string]string
	invalidated bool
	lastForm    map[string]string
}

func (f *fakeSession) EnsureActive(ctx context.Context) error { return nil }

func (f *fakeSession) State() session.State { return session.StateActive }

func (f *fakeSession) answer(path string, out any) error {
	raw, ok := f.answers[path]
	if !ok {
		return fmt.Errorf("no stub for %s", path)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeSession) GetJSON(ctx context.Context, path string, params map[string]string, out any) error {
	return f.answer(path, out)
}

func (f *fakeSession) GetJSONAuthed(ctx context.Context, path string, params map[string]string, out any) error {
	return f.answer(path, out)
}

func (f *fakeSession) PostFormAuthed(ctx context.Context, url string, form map[string]string, out any) error {
	f.lastForm = form
	return f.answer(url, out)
}

func (f *fakeSession) Invalidate() { f.invalidated = true }

func (f *fakeSession) Reset() {}

func TestBalanceComposition(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/mypage/selectUserMndp.do": `{"userMndp":{
			"pntDpstAmt":10000,"pntTkmnyAmt":1000,
			"ncsblDpstAmt":5000,"ncsblTkmnyAmt":500,
			"csblDpstAmt":2000,"csblTkmnyAmt":200,
			"crntEntrsAmt":7000,"rsvtOrdrAmt":3000,"dawAplyAmt":1500}}`,
		"/mypage/selectMyHomeInfo.do": `{"prchsLmtInfo":{"wlyPrchsAcmlAmt":4000}}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(15300), balance.Deposit)
	require.Equal(t, int64(7000), balance.PurchaseAvailable)
	require.Equal(t, int64(3000), balance.Reserved)
	require.Equal(t, int64(1500), balance.PendingWithdrawal)
	require.Equal(t, int64(4000), balance.MonthPurchaseTotal)
}

func TestRoundInfoParsing(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/lt645/selectPstLt645Info.do": `{"list":[{
			"ltEpsd":1119,
			"tm1WnNo":1,"tm2WnNo":9,"tm3WnNo":12,"tm4WnNo":13,"tm5WnNo":20,"tm6WnNo":45,
			"bnsWnNo":3,"ltRflYmd":"2024-05-11"}]}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	draw, err := c.RoundInfo(context.Background(), 1119)
	require.NoError(t, err)
	require.Equal(t, 1119, draw.Round)
	require.Equal(t, []int{1, 9, 12, 13, 20, 45}, draw.Numbers)
	require.Equal(t, 3, draw.Bonus)
	require.Equal(t, "2024-05-11", draw.DrawDate.Format("2006-01-02"))
}

func TestRoundInfoEmptyListIsParseError(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/lt645/selectPstLt645Info.do": `{"list":[]}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	_, err := c.RoundInfo(context.Background(), 9999)
	require.Error(t, err)
}

func TestWeeklyUndrawnCount(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/mypage/selectMyLotteryledger.do": `{"list":[
			{"ltEpsd":1130,"prchsQty":2,"ltWnResult":"미추첨"},
			{"ltEpsd":1129,"prchsQty":1,"ltWnResult":"낙첨"},
			{"ltEpsd":1130,"prchsQty":null,"ltWnResult":"미추첨"},
			{"ltEpsd":1130,"prchsQty":1,"ltWnResult":"미추첨"}]}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	count, err := c.WeeklyUndrawnCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestBuyParsesTicket(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/lt645/selectPstLt645Info.do": `{"list":[{
			"ltEpsd":1121,
			"tm1WnNo":1,"tm2WnNo":2,"tm3WnNo":3,"tm4WnNo":4,"tm5WnNo":5,"tm6WnNo":6,
			"bnsWnNo":7,"ltRflYmd":"2024-05-25"}]}`,
		DefaultGameURL + "/olotto/game/egovUserReadySocket.json": `{"ready_ip":"10.1.2.3"}`,
		DefaultGameURL + "/olotto/game/execBuy.do": `{"loginYn":"Y","result":{
			"resultCode":"100","resultMsg":"SUCCESS","buyRound":"1122",
			"issueDay":"2024/05/28","issueTime":"17:55:27","weekDay":"",
			"barCode1":"59865","barCode2":"36399","barCode3":"04155",
			"barCode4":"63917","barCode5":"56431","barCode6":"42167",
			"arrGameChoiceNum":["A|09|12|30|33|35|433","B|01|02|04|27|39|441"]}}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	record, err := c.Buy(context.Background(), AutoSlots(2))
	require.NoError(t, err)
	require.False(t, sess.invalidated)

	require.Equal(t, 1122, record.Round)
	require.Equal(t, "59865 36399 04155 63917 56431 42167", record.Barcode)
	require.NotEmpty(t, record.ID)
	require.Equal(t, model.RankUnsettled, record.Rank)

	require.Len(t, record.Slots, 2)
	require.Equal(t, "A", record.Slots[0].Label)
	require.Equal(t, model.ModeAuto, record.Slots[0].Mode)
	require.Equal(t, []int{9, 12, 30, 33, 35, 43}, record.Slots[0].Numbers)
	require.Equal(t, model.ModeManual, record.Slots[1].Mode)

	// раунд покупки = последний тираж + 1
	require.Equal(t, "1122", sess.lastForm["round"])
	require.Equal(t, "2000", sess.lastForm["nBuyAmount"])
}

func TestBuyRejectedInvalidatesSession(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/lt645/selectPstLt645Info.do": `{"list":[{
			"ltEpsd":1121,
			"tm1WnNo":1,"tm2WnNo":2,"tm3WnNo":3,"tm4WnNo":4,"tm5WnNo":5,"tm6WnNo":6,
			"bnsWnNo":7,"ltRflYmd":"2024-05-25"}]}`,
		DefaultGameURL + "/olotto/game/egovUserReadySocket.json": `{"ready_ip":"10.1.2.3"}`,
		DefaultGameURL + "/olotto/game/execBuy.do": `{"loginYn":"Y","result":{
			"resultCode":"230","resultMsg":"LIMIT EXCEEDED","arrGameChoiceNum":[]}}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	_, err := c.Buy(context.Background(), AutoSlots(1))
	require.Error(t, err)
	require.True(t, sess.invalidated)
}

func TestBuyHistory(t *testing.T) {
	sess := &fakeSession{answers: map[string]string{
		"/mypage/selectMyLotteryledger.do": `{"list":[
			{"ltEpsd":1130,"prchsQty":2,"ltWnResult":"미추첨",
				"ntslOrdrNo":"order-1","gmInfo":"barcode-1"},
			{"ltEpsd":1130,"prchsQty":1,"ltWnResult":"미추첨",
				"ntslOrdrNo":"order-2","gmInfo":"barcode-2"}]}`,
		"/mypage/lotto645TicketDetail.do": `{"ticket":{"game_dtl":[
			{"idx":"A","type":1,"num":[9,12,30,33,35,43]},
			{"idx":"B","type":0,"num":[1,2,4,27,39,44]}]}}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	records, err := c.BuyHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, 1130, records[0].Round)
	require.Equal(t, "barcode-1", records[0].Barcode)
	require.Equal(t, model.RankUnsettled, records[0].Rank)
	require.Len(t, records[0].Slots, 2)
	require.Equal(t, "A", records[0].Slots[0].Label)
	require.Equal(t, model.ModeManual, records[0].Slots[0].Mode)
	require.Equal(t, []int{9, 12, 30, 33, 35, 43}, records[0].Slots[0].Numbers)
	require.Equal(t, model.ModeAuto, records[0].Slots[1].Mode)
}

func TestBuyHistoryStopsAtWeeklyQuota(t *testing.T) {
	// четыре строки журнала по две игры: после набора квоты
	// оставшиеся билеты не детализируются
	sess := &fakeSession{answers: map[string]string{
		"/mypage/selectMyLotteryledger.do": `{"list":[
			{"ltEpsd":1130,"prchsQty":2,"ltWnResult":"미추첨","ntslOrdrNo":"o1","gmInfo":"b1"},
			{"ltEpsd":1130,"prchsQty":2,"ltWnResult":"미추첨","ntslOrdrNo":"o2","gmInfo":"b2"},
			{"ltEpsd":1129,"prchsQty":2,"ltWnResult":"낙첨","ntslOrdrNo":"o3","gmInfo":"b3"},
			{"ltEpsd":1129,"prchsQty":2,"ltWnResult":"낙첨","ntslOrdrNo":"o4","gmInfo":"b4"}]}`,
		"/mypage/lotto645TicketDetail.do": `{"ticket":{"game_dtl":[
			{"idx":"A","type":0,"num":[1,2,3,4,5,6]},
			{"idx":"B","type":0,"num":[7,8,9,10,11,12]}]}}`,
	}}
	c := NewClient(sess, "", zap.NewNop())

	records, err := c.BuyHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "b3", records[2].Barcode)
}

func TestBuyParamManualNumbersSorted(t *testing.T) {
	param, err := buyParam([]model.Slot{
		{Mode: model.ModeManual, Numbers: []int{43, 9, 12, 35, 30, 33}},
		{Mode: model.ModeAuto},
	})
	require.NoError(t, err)

	var games []struct {
		GenType          string  `json:"genType"`
		ArrGameChoiceNum *string `json:"arrGameChoiceNum"`
		Alpabet          string  `json:"alpabet"`
	}
	require.NoError(t, json.Unmarshal([]byte(param), &games))
	require.Len(t, games, 2)

	require.Equal(t, "1", games[0].GenType)
	require.Equal(t, "A", games[0].Alpabet)
	require.NotNil(t, games[0].ArrGameChoiceNum)
	require.Equal(t, "9,12,30,33,35,43", *games[0].ArrGameChoiceNum)

	require.Equal(t, "0", games[1].GenType)
	require.Nil(t, games[1].ArrGameChoiceNum)
}
