package usecase

import "FinSignal/internal/domain/models"

type nopMetrics struct{}

func (nopMetrics) RecordBarIngested(string)                               {}
func (nopMetrics) RecordPrediction(string, models.Direction, float64)     {}
func (nopMetrics) RecordSignal(string, models.TradeSide)                  {}
func (nopMetrics) RecordSignalSkipped(string)                             {}
func (nopMetrics) RecordTraining(string, bool, float64)                   {}
func (nopMetrics) RecordModelState(string, string, models.LifecycleState) {}
func (nopMetrics) RecordError(string)                                     {}
func (nopMetrics) RecordLatency(string, float64)                          {}
