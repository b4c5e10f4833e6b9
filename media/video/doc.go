/*
包 video 提供统一的异步视频生成适配层，适配 Vidu、可灵(Kling)、
Seedance(火山方舟) 与 Runway ML 四个服务商。

# 概述

所有服务商都遵循"提交后轮询"模型：Submit 返回任务 ID，调用方之后
反复 Poll 直到任务进入终态。本包只负责单次交互，不做等待循环。

# 核心接口

  - Provider — 服务商抽象，包含 Name()、Capabilities()、Submit()、Poll()。
  - GenerationRequest — 与服务商无关的生成请求。
  - TaskHandle / TaskStatus — 提交结果与归一化后的轮询状态。
  - Capabilities — 服务商支持的模式、参考图上限与时长范围。

# 模式推断

InferMode 根据参考图数量、是否有提示词以及服务商能力推断生成模式
(text2video、img2video、start_end2video、reference2video)，
对任意输入都返回唯一结果。PlanRequest 在推断之后校验必填字段，
不访问网络。显式的 VideoMode 会覆盖推断结果。

# 状态归一化

TaskStatus.Normalize 保证 VideoURL 非空当且仅当状态为 succeeded；
服务商报告成功但未给出地址时视为 processing。
*/
package video
