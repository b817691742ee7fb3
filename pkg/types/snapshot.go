package types

// Snapshot:
//   id: string
//   title: string
//   participantA, participantB: string
//   status: "draft" | "paused" | "live" | "completed"
//   isLive: boolean
//   votingEnabled, commentsEnabled, isPublic: boolean
//   adminControlMode: "manual" | "automatic"
//   winner: participantId | "tie" // absent until declared
//   currentRound: number // 1..3
//   rounds: [{ number, contentA?, contentB?, score? }] // complete = both contents + score
//   votes: [{ round, voterId, participantId, castAt }]
//   comments: [{ id, userId, body, createdAt }]
//   generatedSong?: { taskId, status, audioUrl?, ... }
//   liveStartedAt?: string
//   updatedAt: string
//   version: number
