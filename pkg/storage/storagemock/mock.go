package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertMeterReadings(ctx context.Context, meter types.MeterPoint, readings []types.MeterReading) error {
	args := m.Called(ctx, meter, readings)
	return args.Error(0)
}

func (m *MockDatabase) GetMeterReadings(ctx context.Context, meter types.MeterPoint, start, end time.Time) ([]types.MeterReading, error) {
	args := m.Called(ctx, meter, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.MeterReading), args.Error(1)
}

func (m *MockDatabase) UpsertRates(ctx context.Context, direction types.Direction, rates []types.Rate) error {
	args := m.Called(ctx, direction, rates)
	return args.Error(0)
}

func (m *MockDatabase) GetRates(ctx context.Context, direction types.Direction, start, end time.Time) ([]types.Rate, error) {
	args := m.Called(ctx, direction, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Rate), args.Error(1)
}

func (m *MockDatabase) UpsertEnergyDetails(ctx context.Context, start, end time.Time, details types.EnergyDetails) error {
	args := m.Called(ctx, start, end, details)
	return args.Error(0)
}

func (m *MockDatabase) GetEnergyDetails(ctx context.Context, start, end time.Time) (types.EnergyDetails, bool, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(types.EnergyDetails), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) UpsertBatteryHistory(ctx context.Context, start, end time.Time, history types.BatteryHistory) error {
	args := m.Called(ctx, start, end, history)
	return args.Error(0)
}

func (m *MockDatabase) GetBatteryHistory(ctx context.Context, start, end time.Time) (types.BatteryHistory, bool, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(types.BatteryHistory), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
